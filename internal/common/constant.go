package common

// Limits enforced on client input.
const (
	MaxUsernameLen = 20    // bytes
	UserCheckLen   = 6     // hex digits
	MinIterCount   = 10000 // PBKDF2 iterations used by the client

	// MinSaltEntropy is the default lower bound on the Shannon entropy of a
	// signup salt, in [0, 1].
	MinSaltEntropy = 0.95
	// MinSaltBits is the narrowest bit width a salt is measured over.
	MinSaltBits = 128

	BlobIDLen      = 36   // wallet ids are UUID strings
	MaxBlobLen     = 8192 // bytes
	MaxBlobCount   = 8    // blobs per account
	MaxBlobChanges = 32   // update budget ceiling and default

	// MaxNewAddress caps the number of addresses derived in one request.
	MaxNewAddress = 100
)
