package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type account struct{ ID string }

func (a account) EntityID() string { return a.ID }

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		message  string
	}{
		{
			name:     "NotFound",
			err:      &NotFoundError{Entity: "Account", ID: "42"},
			sentinel: ErrNotFound,
			message:  "Account with id '42' not found",
		},
		{
			name:     "DuplicateKey",
			err:      &DuplicateKeyError{Entity: "Account", ID: "42"},
			sentinel: ErrDuplicateKey,
			message:  "Account with id '42' already exists",
		},
		{
			name:     "Validation",
			err:      &ValidationError{Entity: "Account", Cause: errors.New("name is required")},
			sentinel: ErrValidation,
			message:  "invalid Account: name is required",
		},
		{
			name:     "Pagination",
			err:      &PaginationError{Param: "limit", Value: -1},
			sentinel: ErrValidation,
			message:  "limit must be non-negative, got -1",
		},
		{
			name:     "BackendUnavailable",
			err:      &BackendUnavailableError{Op: "insert", Cause: errors.New("connection refused")},
			sentinel: ErrBackendUnavailable,
			message:  "backend unavailable during insert: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

func TestErrorTaxonomy_KindsAreDisjoint(t *testing.T) {
	notFound := &NotFoundError{Entity: "Account", ID: "42"}
	assert.NotErrorIs(t, notFound, ErrDuplicateKey)
	assert.NotErrorIs(t, notFound, ErrValidation)
	assert.NotErrorIs(t, notFound, ErrBackendUnavailable)

	duplicate := &DuplicateKeyError{Entity: "Account", ID: "42"}
	assert.NotErrorIs(t, duplicate, ErrNotFound)
}

func TestValidationError_UnwrapsCause(t *testing.T) {
	cause := errors.New("name is required")
	err := &ValidationError{Entity: "Account", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestListOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    ListOptions[account]
		wantErr bool
	}{
		{name: "Zero value", opts: ListOptions[account]{}},
		{name: "Limit zero", opts: ListOptions[account]{Limit: Limit(0)}},
		{name: "Positive limit and offset", opts: ListOptions[account]{Limit: Limit(5), Offset: 2}},
		{name: "Negative limit", opts: ListOptions[account]{Limit: Limit(-1)}, wantErr: true},
		{name: "Negative offset", opts: ListOptions[account]{Offset: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPaginate(t *testing.T) {
	entities := make([]account, 10)
	for i := range entities {
		entities[i] = account{ID: fmt.Sprintf("a%d", i)}
	}

	tests := []struct {
		name    string
		limit   *int
		offset  int
		wantIDs []string
	}{
		{name: "No bounds", wantIDs: []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9"}},
		{name: "Limit only", limit: Limit(3), wantIDs: []string{"a0", "a1", "a2"}},
		{name: "Offset only", offset: 8, wantIDs: []string{"a8", "a9"}},
		{name: "Limit and offset", limit: Limit(2), offset: 5, wantIDs: []string{"a5", "a6"}},
		{name: "Limit past end", limit: Limit(5), offset: 8, wantIDs: []string{"a8", "a9"}},
		{name: "Offset past end", offset: 15, wantIDs: []string{}},
		{name: "Limit zero", limit: Limit(0), wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Paginate(entities, tt.limit, tt.offset)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestEntityName(t *testing.T) {
	assert.Equal(t, "account", EntityName[account]())
	assert.Equal(t, "account", EntityName[*account]())
	assert.Equal(t, "string", EntityName[string]())
}
