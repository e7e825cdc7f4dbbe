package models

// CosignerWallet links a wallet blob to the wallet state returned by the
// cosigning service when the server joined it.
type CosignerWallet struct {
	ID        int64
	AccountID int64
	WalletID  string
	Wallet    []byte
}
