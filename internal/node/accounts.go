package node

import "fmt"

// Account is a user account declared for a node in the plan.
type Account struct {
	UserID string
	Fields map[string]string
}

// AccountManager hands out the accounts a node was configured with.
type AccountManager interface {
	Accounts() []Account
	NonExistingAccounts() []Account
}

// StaticAccountManager serves the accounts listed in the plan.
type StaticAccountManager struct {
	existing    []Account
	nonExisting []Account
}

// NewStaticAccountManager builds an account manager from plan entries.
// Every entry needs a "userid" field.
func NewStaticAccountManager(role string, existing, nonExisting []map[string]string) (*StaticAccountManager, error) {
	am := &StaticAccountManager{}
	var err error
	if am.existing, err = toAccounts(role, "accounts", existing); err != nil {
		return nil, err
	}
	if am.nonExisting, err = toAccounts(role, "non_existing_accounts", nonExisting); err != nil {
		return nil, err
	}
	return am, nil
}

func toAccounts(role, field string, entries []map[string]string) ([]Account, error) {
	out := make([]Account, 0, len(entries))
	for i, e := range entries {
		id := e["userid"]
		if id == "" {
			return nil, &ConfigError{Role: role, Field: fmt.Sprintf("%s[%d].userid", field, i), Message: "is required"}
		}
		fields := make(map[string]string, len(e))
		for k, v := range e {
			fields[k] = v
		}
		out = append(out, Account{UserID: id, Fields: fields})
	}
	return out, nil
}

func (am *StaticAccountManager) Accounts() []Account {
	return am.existing
}

func (am *StaticAccountManager) NonExistingAccounts() []Account {
	return am.nonExisting
}
