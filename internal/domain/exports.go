package domain

import (
	interfaces "mdocholder/internal/domain/interfaces"
	types "mdocholder/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	DocumentID         = types.DocumentID
	DocType            = types.DocType
	Namespace          = types.Namespace
	ElementID          = types.ElementID
	Curve              = types.Curve
	SignatureAlgorithm = types.SignatureAlgorithm
	MethodKind         = types.MethodKind
	ConnectionMethod   = types.ConnectionMethod
	Role               = types.Role
	EngagementRecord   = types.EngagementRecord
	AuthMode           = types.AuthMode
	Credential         = types.Credential
	DocRequest         = types.DocRequest
	ReaderRequest      = types.ReaderRequest
	SessionBinding     = types.SessionBinding
	DisclosurePlan     = types.DisclosurePlan
	Candidate          = types.Candidate
	TrustPoint         = types.TrustPoint
	TrustPolicy        = types.TrustPolicy
	SessionState       = types.SessionState
	FailureReason      = types.FailureReason
	StateEvent         = types.StateEvent
	KeyInfo            = types.KeyInfo
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	CryptoProvider      = interfaces.CryptoProvider
	DocumentStore       = interfaces.DocumentStore
	KeyStore            = interfaces.KeyStore
	TrustStore          = interfaces.TrustStore
	TransportHandle     = interfaces.TransportHandle
	PendingConnection   = interfaces.PendingConnection
	TransportNegotiator = interfaces.TransportNegotiator
	EngagementGenerator = interfaces.EngagementGenerator
	CredentialProvider  = interfaces.CredentialProvider
	ConsentRequest      = interfaces.ConsentRequest
	ConsentPrompt       = interfaces.ConsentPrompt
	DocumentService     = interfaces.DocumentService
)

// Constants re-exported for callers that only import domain.
const (
	CurveP256 = types.CurveP256
	CurveP384 = types.CurveP384
	CurveP521 = types.CurveP521

	AlgES256 = types.AlgES256
	AlgES384 = types.AlgES384
	AlgES512 = types.AlgES512

	MethodBLECentralClient    = types.MethodBLECentralClient
	MethodBLEPeripheralServer = types.MethodBLEPeripheralServer
	MethodWebsocket           = types.MethodWebsocket
	MethodLoopback            = types.MethodLoopback

	RoleHolder = types.RoleHolder
	RoleReader = types.RoleReader

	AuthSignature    = types.AuthSignature
	AuthKeyAgreement = types.AuthKeyAgreement

	StateIdle       = types.StateIdle
	StateEngaging   = types.StateEngaging
	StateConnecting = types.StateConnecting
	StateConnected  = types.StateConnected
	StateProcessing = types.StateProcessing
	StateCompleted  = types.StateCompleted
	StateFailed     = types.StateFailed

	ReasonNone                 = types.ReasonNone
	ReasonTransportTimeout     = types.ReasonTransportTimeout
	ReasonTransportCancelled   = types.ReasonTransportCancelled
	ReasonTransportIO          = types.ReasonTransportIO
	ReasonUntrustedReader      = types.ReasonUntrustedReader
	ReasonNoMatchingCredential = types.ReasonNoMatchingCredential
	ReasonMalformedRequest     = types.ReasonMalformedRequest
	ReasonEncodingOverflow     = types.ReasonEncodingOverflow
	ReasonInvariantViolation   = types.ReasonInvariantViolation
	ReasonConsentDenied        = types.ReasonConsentDenied
	ReasonInternal             = types.ReasonInternal
)

// DefaultTrustPolicy returns the policy used when none is configured.
func DefaultTrustPolicy() TrustPolicy { return types.DefaultTrustPolicy() }
