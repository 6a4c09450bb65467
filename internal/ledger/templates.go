package ledger

// Template describes a well-known chart of accounts entry the resolver may
// create when no mapping is configured. Operational float accounts can be
// provisioned faster than anyone configures accounting; posting must not
// block on bookkeeping setup.
type Template struct {
	Code string
	Name string
	Type AccountType
}

// accountTemplates is keyed by transaction type. Entries here win over the
// per-mapping-type defaults below.
var accountTemplates = map[string]map[MappingType]Template{
	"momo_float": {
		MappingFloat: {Code: "2001", Name: "MoMo Float Liability", Type: AccountTypeLiability},
	},
	"agency_banking_float": {
		MappingFloat: {Code: "2002", Name: "Agency Banking Float Liability", Type: AccountTypeLiability},
	},
	"ezwich_float": {
		MappingFloat: {Code: "2003", Name: "E-Zwich Float Liability", Type: AccountTypeLiability},
	},
	"power_float": {
		MappingFloat: {Code: "2004", Name: "Power Float Liability", Type: AccountTypeLiability},
	},
	"jumia_float": {
		MappingFloat: {Code: "2005", Name: "E-Commerce Collections Liability", Type: AccountTypeLiability},
	},
}

// defaultTemplates apply to any transaction type when no specific template
// exists for it.
var defaultTemplates = map[MappingType]Template{
	MappingMain:       {Code: "1001", Name: "Cash", Type: AccountTypeAsset},
	MappingAsset:      {Code: "1010", Name: "Settlement Assets", Type: AccountTypeAsset},
	MappingFloat:      {Code: "2000", Name: "Float Liability", Type: AccountTypeLiability},
	MappingFee:        {Code: "4003", Name: "Fee Income", Type: AccountTypeRevenue},
	MappingCommission: {Code: "4001", Name: "Commission Revenue", Type: AccountTypeRevenue},
	MappingRevenue:    {Code: "4002", Name: "Other Income", Type: AccountTypeRevenue},
	MappingReversal:   {Code: "1090", Name: "Reversal Suspense", Type: AccountTypeAsset},
}

// templateFor returns the template for a transaction type and mapping type.
func templateFor(transactionType string, mappingType MappingType) (Template, bool) {
	if byType, ok := accountTemplates[transactionType]; ok {
		if tpl, ok := byType[mappingType]; ok {
			return tpl, true
		}
	}
	tpl, ok := defaultTemplates[mappingType]
	return tpl, ok
}
