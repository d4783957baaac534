package interfaces

import (
	"context"

	domaintypes "mdocholder/internal/domain/types"
)

// EngagementGenerator produces device engagements.
type EngagementGenerator interface {
	Generate(methods []domaintypes.ConnectionMethod, role domaintypes.Role) (*domaintypes.EngagementRecord, error)
}

// CredentialProvider finds credentials satisfying a reader request and
// builds the documents released for them.
type CredentialProvider interface {
	CandidatesFor(
		ctx context.Context,
		req *domaintypes.ReaderRequest,
		trust domaintypes.TrustPoint,
	) ([]domaintypes.Candidate, error)
	// Disclose returns the encoded response Document for cand.
	Disclose(
		ctx context.Context,
		cand domaintypes.Candidate,
		binding domaintypes.SessionBinding,
	) ([]byte, error)
}

// ConsentRequest is shown to the user before anything is released.
type ConsentRequest struct {
	AppName    string
	Reader     domaintypes.TrustPoint
	Candidates []domaintypes.Candidate
}

// ConsentPrompt asks the user to approve a disclosure.
type ConsentPrompt interface {
	Confirm(ctx context.Context, req ConsentRequest) (bool, error)
}

// DocumentService manages the holder's credentials.
type DocumentService interface {
	List(ctx context.Context) ([]domaintypes.Credential, error)
	SeedSample(ctx context.Context) (bool, error)
}
