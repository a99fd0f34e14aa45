package domain

import "context"

// RequestSigner authorizes one outbound collaborator request. The concrete
// implementation is the auction's delegation key; the engine derives it per
// auction and hands it only to the custody/issuance call being made.
type RequestSigner interface {
	SignRequest(method, path string, body []byte, unixTS int64) (map[string]string, error)
}

// Custody is the external ledger that actually moves collateral between
// accounts. A transfer either completes or fails as a whole; the engine
// treats any failure as an abort of the enclosing operation.
//
// Transfers out of an auction's custody account are authorized by the
// auction's own delegation, not by the caller's credentials.
type Custody interface {
	Transfer(ctx context.Context, asset, from, to string, amount uint64, signer RequestSigner) error
}

// Issuance is the external collectible-issuance service. IssueOne mints
// exactly one unit of the collection's item to owner, drawn from the bounded
// backing source set, authorized by the auction's delegation.
type Issuance interface {
	IssueOne(ctx context.Context, sourceSet, collection, owner string, signer RequestSigner) (itemID string, err error)
	// SourceSetSize reports how many issuable items the backing set holds;
	// creation rejects empty or unknown sets.
	SourceSetSize(ctx context.Context, sourceSet string) (uint64, error)
}
