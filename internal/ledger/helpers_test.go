package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// memoryRepo implements Repository and TxRepository in memory for service
// tests.
type memoryRepo struct {
	accounts map[int64]*Account
	byCode   map[string]int64
	mappings map[string]int64
	entries  map[string]*Entry
	nextID   int64

	// hideUntilConflict simulates losing an insert race: the source lookup
	// misses until InsertEntry reports a duplicate.
	hideUntilConflict bool
	raceWinner        *Entry
}

func newMemoryRepo(accounts ...Account) *memoryRepo {
	repo := &memoryRepo{
		accounts: make(map[int64]*Account),
		byCode:   make(map[string]int64),
		mappings: make(map[string]int64),
		entries:  make(map[string]*Entry),
		nextID:   100,
	}
	for i := range accounts {
		a := accounts[i]
		repo.accounts[a.ID] = &a
		repo.byCode[a.Code] = a.ID
	}
	return repo
}

func sourceKey(module, sourceID string) string {
	return module + "|" + sourceID
}

func mappingKey(transactionType string, mappingType MappingType, floatAccountID *int64) string {
	if floatAccountID == nil {
		return fmt.Sprintf("%s|%s|-", transactionType, mappingType)
	}
	return fmt.Sprintf("%s|%s|%d", transactionType, mappingType, *floatAccountID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

var errTxAborted = errors.New("current transaction is aborted")

// memoryTx mimics postgres transaction semantics: once a statement fails,
// every further call on the transaction errors until it is discarded.
type memoryTx struct {
	repo    *memoryRepo
	aborted bool
}

func (t *memoryTx) GetEntryBySource(ctx context.Context, module, sourceID string) (Entry, []Line, error) {
	if t.aborted {
		return Entry{}, nil, errTxAborted
	}
	return t.repo.GetEntryBySource(ctx, module, sourceID)
}

func (t *memoryTx) InsertEntry(ctx context.Context, in PostingInput) (Entry, error) {
	if t.aborted {
		return Entry{}, errTxAborted
	}
	entry, err := t.repo.InsertEntry(ctx, in)
	if err != nil {
		t.aborted = true
	}
	return entry, err
}

func (t *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	if t.aborted {
		return errTxAborted
	}
	return t.repo.InsertLines(ctx, entryID, lines)
}

func (t *memoryTx) ApplyLineBalances(ctx context.Context, lines []LineInput) error {
	if t.aborted {
		return errTxAborted
	}
	return t.repo.ApplyLineBalances(ctx, lines)
}

func (t *memoryTx) GetEntryWithLines(ctx context.Context, entryID int64) (Entry, []Line, error) {
	if t.aborted {
		return Entry{}, nil, errTxAborted
	}
	return t.repo.GetEntryWithLines(ctx, entryID)
}

func (t *memoryTx) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	if t.aborted {
		return errTxAborted
	}
	return t.repo.UpdateEntryStatus(ctx, entryID, status)
}

func (r *memoryRepo) GetEntryBySource(_ context.Context, module, sourceID string) (Entry, []Line, error) {
	if r.hideUntilConflict {
		return Entry{}, nil, ErrEntryNotFound
	}
	entry, ok := r.entries[sourceKey(module, sourceID)]
	if !ok {
		return Entry{}, nil, ErrEntryNotFound
	}
	return *entry, entry.Lines, nil
}

func (r *memoryRepo) InsertEntry(_ context.Context, in PostingInput) (Entry, error) {
	key := sourceKey(in.SourceModule, in.SourceTransactionID)
	if r.hideUntilConflict {
		r.hideUntilConflict = false
		r.entries[key] = r.raceWinner
		return Entry{}, ErrDuplicateSource
	}
	if _, ok := r.entries[key]; ok {
		return Entry{}, ErrDuplicateSource
	}
	r.nextID++
	entry := &Entry{
		ID:                    r.nextID,
		Date:                  in.Date,
		SourceModule:          in.SourceModule,
		SourceTransactionID:   in.SourceTransactionID,
		SourceTransactionType: in.SourceTransactionType,
		Description:           in.Description,
		Status:                EntryStatusPosted,
		CreatedBy:             in.CreatedBy,
		CreatedAt:             time.Now(),
	}
	r.entries[key] = entry
	return *entry, nil
}

func (r *memoryRepo) InsertLines(_ context.Context, entryID int64, lines []LineInput) error {
	for _, entry := range r.entries {
		if entry.ID != entryID {
			continue
		}
		for i, line := range lines {
			entry.Lines = append(entry.Lines, Line{
				ID:        entryID*10 + int64(i),
				EntryID:   entryID,
				AccountID: line.AccountID,
				Debit:     line.Debit,
				Credit:    line.Credit,
			})
		}
		return nil
	}
	return ErrEntryNotFound
}

func (r *memoryRepo) ApplyLineBalances(_ context.Context, lines []LineInput) error {
	for _, line := range lines {
		account, ok := r.accounts[line.AccountID]
		if !ok {
			return ErrAccountNotFound
		}
		account.Balance += balanceDelta(account.Type, line.Debit, line.Credit)
	}
	return nil
}

func (r *memoryRepo) GetEntryWithLines(_ context.Context, entryID int64) (Entry, []Line, error) {
	for _, entry := range r.entries {
		if entry.ID == entryID {
			return *entry, entry.Lines, nil
		}
	}
	return Entry{}, nil, ErrEntryNotFound
}

func (r *memoryRepo) UpdateEntryStatus(_ context.Context, entryID int64, status EntryStatus) error {
	for _, entry := range r.entries {
		if entry.ID == entryID {
			entry.Status = status
			return nil
		}
	}
	return ErrEntryNotFound
}

func (r *memoryRepo) ListAccounts(_ context.Context) ([]Account, error) {
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (r *memoryRepo) GetAccountByCode(_ context.Context, code string) (Account, error) {
	id, ok := r.byCode[code]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *r.accounts[id], nil
}

func (r *memoryRepo) GetMappedAccount(_ context.Context, transactionType string, mappingType MappingType, floatAccountID *int64) (Account, error) {
	id, ok := r.mappings[mappingKey(transactionType, mappingType, floatAccountID)]
	if !ok {
		return Account{}, ErrMappingNotFound
	}
	return *r.accounts[id], nil
}

func (r *memoryRepo) UpsertAccount(_ context.Context, code, name string, accountType AccountType) (Account, error) {
	if id, ok := r.byCode[code]; ok {
		return *r.accounts[id], nil
	}
	r.nextID++
	account := &Account{ID: r.nextID, Code: code, Name: name, Type: accountType, IsActive: true}
	r.accounts[account.ID] = account
	r.byCode[code] = account.ID
	return *account, nil
}

func (r *memoryRepo) UpsertMapping(_ context.Context, transactionType string, mappingType MappingType, floatAccountID *int64, accountID int64) (Mapping, error) {
	r.mappings[mappingKey(transactionType, mappingType, floatAccountID)] = accountID
	return Mapping{TransactionType: transactionType, MappingType: mappingType, FloatAccountID: floatAccountID, AccountID: accountID, IsActive: true}, nil
}

func (r *memoryRepo) balance(accountID int64) float64 {
	if a, ok := r.accounts[accountID]; ok {
		return a.Balance
	}
	return 0
}
