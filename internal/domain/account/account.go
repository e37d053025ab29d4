package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxActiveLoans is the ceiling on concurrently held loans per account.
const MaxActiveLoans = 10

type Account struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Balance         decimal.Decimal `json:"balance"`
	LoggedIn        bool            `json:"loggedIn"`
	Admin           bool            `json:"admin"`
	ActiveLoanCount int             `json:"activeLoanCount"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func NewAccount(name, email string, balance decimal.Decimal) *Account {
	now := time.Now()
	return &Account{
		Name:      name,
		Email:     email,
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Account) HasReachedLoanLimit() bool {
	return a.ActiveLoanCount >= MaxActiveLoans
}

func (a *Account) CanAfford(price decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(price)
}

// Shortfall is how much must be added to the balance to afford price, zero if affordable.
func (a *Account) Shortfall(price decimal.Decimal) decimal.Decimal {
	if a.CanAfford(price) {
		return decimal.Zero
	}
	return price.Sub(a.Balance)
}

// BorrowFor debits the price and counts one more active loan.
func (a *Account) BorrowFor(price decimal.Decimal) {
	a.Balance = a.Balance.Sub(price)
	a.ActiveLoanCount++
	a.UpdatedAt = time.Now()
}

// ReleaseLoan counts one loan fewer. The balance is not credited back.
func (a *Account) ReleaseLoan() {
	if a.ActiveLoanCount > 0 {
		a.ActiveLoanCount--
	}
	a.UpdatedAt = time.Now()
}
