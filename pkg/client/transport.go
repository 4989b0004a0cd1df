// Package client is the stateful orchestration half of the batch
// protocol engine: the gRPC transport to an Ark server, the batch
// event-loop state machine, and the coin-selection/unilateral-exit
// helpers built on top of pkg/arklib, grounded on
// original_source/ark-client/src/batch.rs and
// original_source/ark-client/src/lib.rs.
package client

import (
	"context"
	"time"

	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServerInfo is the subset of the Ark server's advertised configuration
// the batch protocol and send pipeline need, grounded on `server::Info`
// in original_source/ark-core/src/server.rs.
type ServerInfo struct {
	Pk                  *btcec.PublicKey // server signing key, used in offchain addresses
	ForfeitPk           *btcec.PublicKey // pubkey forfeit outputs pay to during batch finalization
	ForfeitAddress      string
	Network             arklib.Network
	BoardingExitDelay   int64
	UnilateralExitDelay int64
	VtxoTreeExpiry      int64
	Dust                int64
	CheckpointTapscript []byte
}

// BatchTreeEventType distinguishes which graph a tree-tx/tree-signature
// event chunk belongs to.
type BatchTreeEventType int

const (
	BatchTreeEventVtxo BatchTreeEventType = iota
	BatchTreeEventConnector
)

// BatchStartedEvent announces a batch has begun and lists which
// registered intents were admitted, by hash.
type BatchStartedEvent struct {
	ID              string
	IntentIDHashes  [][32]byte
	HashOfIntentID  func(intentID string) [32]byte
}

// TreeTxEvent carries one chunk of either the VTXO or connector graph.
type TreeTxEvent struct {
	ID               string
	BatchTreeEventType BatchTreeEventType
	Txid             chainhash.Hash
	Tx               *psbt.Packet
	Children         map[uint32]chainhash.Hash
}

// TreeSignatureEvent carries the server-combined signature for one node
// of the VTXO tree, to be applied locally so every participant holds a
// fully signed tree without re-deriving it.
type TreeSignatureEvent struct {
	ID                 string
	BatchTreeEventType BatchTreeEventType
	Txid               chainhash.Hash
	Signature          []byte
}

// TreeSigningStartedEvent announces the VTXO graph is fully received and
// cosigner nonce generation should begin.
type TreeSigningStartedEvent struct {
	ID                    string
	UnsignedCommitmentTx  *psbt.Packet
	CosignerPubKeys       []*btcec.PublicKey
}

// TreeNoncesEvent carries one cosigner's public nonce for one tree
// transaction.
type TreeNoncesEvent struct {
	ID        string
	Txid      chainhash.Hash
	CosignerPk *btcec.PublicKey
	PubNonce  [66]byte
}

// TreeNoncesAggregatedEvent announces the server has produced an
// aggregated nonce for a tree transaction.
type TreeNoncesAggregatedEvent struct {
	ID   string
	Txid chainhash.Hash
}

// BatchFinalizationEvent requests forfeit-transaction and (if any
// boarding input participates) commitment-PSBT signatures.
type BatchFinalizationEvent struct {
	ID            string
	CommitmentTx  *psbt.Packet
}

// BatchFinalizedEvent announces a batch reached its on-chain commitment
// transaction.
type BatchFinalizedEvent struct {
	ID              string
	CommitmentTxid  chainhash.Hash
}

// BatchFailedEvent announces a batch failed, identified by ID: a failure
// for an ID this client is not waiting on must be ignored, not treated
// as fatal.
type BatchFailedEvent struct {
	ID     string
	Reason string
}

// StreamEvent is the sum type the batch event stream yields. Exactly one
// field is non-nil per event.
type StreamEvent struct {
	BatchStarted          *BatchStartedEvent
	TreeTx                *TreeTxEvent
	TreeSignature         *TreeSignatureEvent
	TreeSigningStarted    *TreeSigningStartedEvent
	TreeNonces            *TreeNoncesEvent
	TreeNoncesAggregated  *TreeNoncesAggregatedEvent
	BatchFinalization     *BatchFinalizationEvent
	BatchFinalized        *BatchFinalizedEvent
	BatchFailed           *BatchFailedEvent
	Heartbeat             bool
}

// EventStream yields StreamEvents until the context is cancelled or the
// server closes the stream.
type EventStream interface {
	Recv(ctx context.Context) (*StreamEvent, error)
}

// PartialSigTree is one cosigner's set of partial MuSig2 signatures for
// the tree transactions it just aggregated nonces for, keyed by txid.
type PartialSigTree map[chainhash.Hash][]byte

// TransportClient is the server RPC surface the batch protocol and
// offchain transfer pipeline need. It is an external collaborator
// boundary: no concrete gRPC-generated implementation ships in this
// module (the upstream protobuf service definitions are not part of
// this client core's source), only the interface the orchestration
// layer calls through and a DialServer helper for wiring a generated
// stub's underlying connection.
type TransportClient interface {
	GetInfo(ctx context.Context) (*ServerInfo, error)
	ListVtxos(ctx context.Context, address *arklib.ArkAddress) (*arklib.VtxoList, error)
	GetVtxoChain(ctx context.Context, outpoint chainhash.Hash, pageSize, pageIndex int) ([]byte, error)
	GetTxHistory(ctx context.Context, address *arklib.ArkAddress) ([]arklib.TxRecord, error)

	RegisterIntent(ctx context.Context, intentMessage []byte, proof *psbt.Packet) (intentID string, err error)
	ConfirmRegistration(ctx context.Context, intentID string) error
	GetEventStream(ctx context.Context, topics []string) (EventStream, error)
	SubmitTreeNonces(ctx context.Context, batchID string, cosignerPk *btcec.PublicKey, nonces map[chainhash.Hash][66]byte) error
	SubmitTreeSignatures(ctx context.Context, batchID string, cosignerPk *btcec.PublicKey, sigs PartialSigTree) error
	SubmitSignedForfeitTxs(ctx context.Context, forfeitTxs []*psbt.Packet, commitmentTx *psbt.Packet) error

	SubmitTx(ctx context.Context, arkTx *psbt.Packet, checkpointTxs []*psbt.Packet) (arkTxid string, signedCheckpointTxs []*psbt.Packet, err error)
	FinalizeTx(ctx context.Context, arkTxid string, finalCheckpointTxs []*psbt.Packet) error

	SubscribeForScripts(ctx context.Context, scripts []string) (subscriptionID string, err error)
	GetSubscription(ctx context.Context, subscriptionID string) (EventStream, error)
	UnsubscribeForScripts(ctx context.Context, subscriptionID string, scripts []string) error
}

// DialServer opens a gRPC connection to an Ark server address, wiring
// the OpenTelemetry stats handler and a bounded retry interceptor for
// transient RPC failures (distinct from the batch-join retry loop in
// settle.go, which retries whole protocol rounds rather than individual
// RPCs). addr is a bare host:port; TLS is left to the caller via dial
// options if the deployment requires it. Connection establishment is
// lazy, matching grpc.NewClient's non-blocking contract.
func DialServer(addr string, insecureTransport bool, extraOpts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(
			grpc_retry.UnaryClientInterceptor(
				grpc_retry.WithMax(3),
				grpc_retry.WithBackoff(grpc_retry.BackoffExponential(200*time.Millisecond)),
			),
		),
	}
	if insecureTransport {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, extraOpts...)

	return grpc.NewClient(addr, opts...)
}
