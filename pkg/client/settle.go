package client

import (
	"bytes"
	"context"
	"time"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/batch"
	"github.com/arkwire/ark-client-core/pkg/arklib/sigverify"
	"github.com/arkwire/ark-client-core/pkg/arklib/txgraph"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Step is the batch-protocol state machine's current position, grounded
// on the `Step` enum in original_source/ark-client/src/batch.rs. Events
// received while in the wrong step are silently skipped rather than
// treated as errors, since the server's event stream is shared across
// every batch the client happens to be subscribed to.
type Step int

const (
	StepStart Step = iota
	StepBatchStarted
	StepBatchSigningStarted
	StepFinalized
)

func (s Step) next() Step {
	switch s {
	case StepStart:
		return StepBatchStarted
	case StepBatchStarted:
		return StepBatchSigningStarted
	case StepBatchSigningStarted:
		return StepFinalized
	default:
		return StepFinalized
	}
}

// BoardBatchOutput converts boarding inputs into an offchain VTXO owned
// by the client itself.
type BoardBatchOutput struct {
	ToAddress *arklib.ArkAddress
	ToAmount  int64
}

// OffBoardBatchOutput converts VTXO inputs into an onchain payment, with
// any leftover returned as an offchain change VTXO.
type OffBoardBatchOutput struct {
	ToAddress     btcutil.Address
	ToAmount      int64
	ChangeAddress *arklib.ArkAddress
	ChangeAmount  int64
}

// BatchOutputType is the settlement shape a batch join is requesting.
// Exactly one field is set.
type BatchOutputType struct {
	Board    *BoardBatchOutput
	OffBoard *OffBoardBatchOutput
}

// Settle pledges every eligible boarding UTXO and every spendable VTXO
// (recoverable ones only if selectRecoverable) to the next batch,
// converting them into a single
// offchain VTXO at the client's own address. It returns nil if there is
// nothing to settle, grounded on `Client::settle` in
// original_source/ark-client/src/batch.rs.
func (c *Client) Settle(ctx context.Context, selectRecoverable bool) (*chainhash.Hash, error) {
	if c.ServerInfo == nil {
		return nil, arkerror.AdHoc("client not connected")
	}

	onchainInputs, vtxoInputs, totalAmount, err := c.fetchCommitmentTransactionInputs(ctx, selectRecoverable, 0)
	if err != nil {
		return nil, err
	}
	if len(onchainInputs) == 0 && len(vtxoInputs) == 0 {
		return nil, nil
	}

	toAddress, _, err := c.GetOffchainAddress()
	if err != nil {
		return nil, err
	}
	outputType := BatchOutputType{Board: &BoardBatchOutput{ToAddress: toAddress, ToAmount: totalAmount}}

	var txid chainhash.Hash
	op := func() error {
		result, err := c.joinNextBatch(ctx, onchainInputs, vtxoInputs, outputType)
		if err != nil {
			return err
		}
		txid = *result
		return nil
	}
	// Round.rs/batch.rs retry `board`/`settle` with zero extra attempts:
	// a failed join is surfaced immediately rather than silently retried,
	// since boarding inputs don't expire mid-retry the way a quote might.
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 0)); err != nil {
		return nil, err
	}
	return &txid, nil
}

// CollaborativeRedeem spends VTXO inputs into an onchain payment,
// retrying the batch join a bounded number of times since a lost race
// for batch admission is routine, grounded on
// `Client::collaborative_redeem` in
// original_source/ark-client/src/batch.rs.
func (c *Client) CollaborativeRedeem(ctx context.Context, toAddress btcutil.Address, toAmount int64, selectRecoverable bool) (*chainhash.Hash, error) {
	if c.ServerInfo == nil {
		return nil, arkerror.AdHoc("client not connected")
	}

	onchainInputs, vtxoInputs, totalAmount, err := c.fetchCommitmentTransactionInputs(ctx, selectRecoverable, toAmount)
	if err != nil {
		return nil, err
	}
	if len(onchainInputs)+len(vtxoInputs) == 0 {
		return nil, arkerror.CoinSelect("no inputs available for collaborative redeem")
	}

	changeAmount := totalAmount - toAmount
	if changeAmount < 0 {
		return nil, arkerror.CoinSelect("insufficient funds to cover collaborative redeem amount")
	}
	changeAddress, _, err := c.GetOffchainAddress()
	if err != nil {
		return nil, err
	}

	outputType := BatchOutputType{OffBoard: &OffBoardBatchOutput{
		ToAddress: toAddress, ToAmount: toAmount,
		ChangeAddress: changeAddress, ChangeAmount: changeAmount,
	}}

	var txid chainhash.Hash
	op := func() error {
		result, err := c.joinNextBatch(ctx, onchainInputs, vtxoInputs, outputType)
		if err != nil {
			return err
		}
		txid = *result
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		return nil, err
	}
	return &txid, nil
}

// fetchCommitmentTransactionInputs collects every boarding UTXO still
// eligible to enter a batch, plus VTXO inputs to cover targetAmount:
// when targetAmount is zero every spendable VTXO is pledged (the
// Settle/board case, which always sweeps the full balance); otherwise
// only as many VTXOs as needed are chosen via SelectVtxosForAmount,
// preferring those closest to expiry, grounded on
// `fetch_commitment_transaction_inputs` in
// original_source/ark-client/src/batch.rs.
func (c *Client) fetchCommitmentTransactionInputs(ctx context.Context, selectRecoverable bool, targetAmount int64) ([]batch.OnChainInput, []batch.VtxoInput, int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	boardingOutputs, err := c.boarding.GetBoardingOutputs(ctx)
	if err != nil {
		return nil, nil, 0, arkerror.Context("failed to list boarding outputs", err)
	}

	var onchainInputs []batch.OnChainInput
	var total int64
	seen := make(map[wire.OutPoint]bool)

	for _, out := range boardingOutputs {
		spk, err := out.ScriptPubKey()
		if err != nil {
			return nil, nil, 0, err
		}
		utxos, err := c.blockchain.FindOutpoints(ctx, spk)
		if err != nil {
			return nil, nil, 0, arkerror.Context("failed to find boarding utxos", err)
		}
		for _, u := range utxos {
			if u.IsSpent || u.ConfirmationTime == nil || seen[u.Outpoint] {
				continue
			}
			if exitDelayElapsed(out.BoardingExitDelay, *u.ConfirmationTime) {
				continue // unilateral exit already available, not safe to pledge
			}
			seen[u.Outpoint] = true
			onchainInputs = append(onchainInputs, batch.OnChainInput{BoardingOutput: out, Amount: u.Amount, Outpoint: u.Outpoint})
			total += u.Amount
		}
	}

	spendable, err := c.SpendableVtxos(ctx, selectRecoverable)
	if err != nil {
		return nil, nil, 0, err
	}
	_, vtxo, err := c.GetOffchainAddress()
	if err != nil {
		return nil, nil, 0, err
	}

	if targetAmount > 0 {
		if total >= targetAmount {
			return onchainInputs, nil, total, nil
		}
		selected, _, err := SelectVtxosForAmount(spendable, targetAmount-total)
		if err != nil {
			return nil, nil, 0, err
		}
		spendable = selected
	}

	var vtxoInputs []batch.VtxoInput
	for _, v := range spendable {
		vtxoInputs = append(vtxoInputs, batch.VtxoInput{Vtxo: vtxo, Amount: v.Amount, Outpoint: v.Outpoint})
		total += v.Amount
	}

	return onchainInputs, vtxoInputs, total, nil
}

// exitDelayElapsed reports whether a CSV-delayed unilateral exit rooted
// at confirmedAt with a raw BIP-68 sequence of rawDelay has already
// become spendable. Block-height-based delays can't be checked without
// a current chain tip, so they are conservatively treated as not yet
// elapsed.
func exitDelayElapsed(rawDelay int64, confirmedAt time.Time) bool {
	locktime, err := arklib.ParseSequenceNumber(rawDelay)
	if err != nil || !locktime.Seconds {
		return false
	}
	delay := time.Duration(locktime.Value*512) * time.Second
	return time.Since(confirmedAt) >= delay
}

// joinNextBatch runs the batch-protocol event loop to completion:
// register intent, wait for the batch to start, generate and submit
// cosigner nonces for the VTXO tree, sign and submit the tree once
// nonces are aggregated, then sign and submit forfeit/commitment data
// during finalization, grounded on `join_next_batch` in
// original_source/ark-client/src/batch.rs.
func (c *Client) joinNextBatch(ctx context.Context, onchainInputs []batch.OnChainInput, vtxoInputs []batch.VtxoInput, outputType BatchOutputType) (*chainhash.Hash, error) {
	cosignerKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, arkerror.Crypto("failed to generate ephemeral cosigner key", err)
	}
	cosignerPk := cosignerKey.PubKey()

	intent, topics, err := c.buildBatchIntent(onchainInputs, vtxoInputs, outputType, cosignerPk)
	if err != nil {
		return nil, err
	}

	msgBytes, err := intent.Message.Encode()
	if err != nil {
		return nil, err
	}

	rctx, cancel := c.withTimeout(ctx)
	intentID, err := c.transport.RegisterIntent(rctx, msgBytes, intent.Proof)
	cancel()
	if err != nil {
		return nil, arkerror.ArkServer("failed to register intent")
	}

	stream, err := c.transport.GetEventStream(ctx, topics)
	if err != nil {
		return nil, arkerror.ArkServer("failed to subscribe to batch event stream")
	}

	var (
		step                  = StepStart
		batchID               string
		vtxoGraph             *txgraph.Graph
		vtxoGraphChunks       []txgraph.Chunk
		connectorGraphChunks  []txgraph.Chunk
		nonceKps              *batch.NonceKps
		unsignedCommitmentTx  *psbt.Packet
		pubNonces             = make(map[chainhash.Hash][][66]byte)
		confirmed             bool
	)

	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			return nil, arkerror.ArkServer("batch event stream closed unexpectedly")
		}

		switch {
		case ev.Heartbeat:
			continue

		case ev.BatchStarted != nil:
			if step != StepStart {
				continue
			}
			e := ev.BatchStarted
			if !intentAdmitted(e, intentID) {
				continue
			}
			batchID = e.ID
			if !confirmed {
				cctx, cancel := c.withTimeout(ctx)
				err := c.transport.ConfirmRegistration(cctx, intentID)
				cancel()
				if err != nil {
					return nil, arkerror.ArkServer("failed to confirm batch registration")
				}
				confirmed = true
			}
			step = StepBatchStarted
			c.log.WithField("batch_id", batchID).Info("batch started")

		case ev.TreeTx != nil:
			e := ev.TreeTx
			if e.BatchTreeEventType != BatchTreeEventVtxo {
				connectorGraphChunks = append(connectorGraphChunks, txgraph.Chunk{Txid: e.Txid, Psbt: e.Tx, Children: e.Children})
				continue
			}
			vtxoGraphChunks = append(vtxoGraphChunks, txgraph.Chunk{Txid: e.Txid, Psbt: e.Tx, Children: e.Children})

		case ev.TreeSignature != nil:
			if step != StepBatchSigningStarted {
				continue
			}
			e := ev.TreeSignature
			if e.BatchTreeEventType != BatchTreeEventVtxo || vtxoGraph == nil {
				continue
			}
			sig, err := schnorr.ParseSignature(e.Signature)
			if err != nil {
				return nil, arkerror.Crypto("failed to parse batch tree signature", err)
			}
			if err := vtxoGraph.SetSignature(e.Txid, sig); err != nil {
				return nil, arkerror.Context("failed to apply batch tree signature", err)
			}

		case ev.TreeSigningStarted != nil:
			if step != StepBatchStarted {
				continue
			}
			e := ev.TreeSigningStarted
			vtxoGraph, err = txgraph.New(vtxoGraphChunks)
			if err != nil {
				return nil, arkerror.Context("failed to build vtxo graph before nonce generation", err)
			}
			if !containsCosignerPk(e.CosignerPubKeys, cosignerPk) {
				return nil, arkerror.ArkServer("own cosigner key missing from batch cosigner set")
			}

			nonceKps, err = batch.GenerateNonceTree(vtxoGraph, cosignerPk, e.UnsignedCommitmentTx)
			if err != nil {
				return nil, arkerror.Context("failed to generate vtxo nonce tree", err)
			}
			unsignedCommitmentTx = e.UnsignedCommitmentTx

			sctx, cancel := c.withTimeout(ctx)
			err = c.transport.SubmitTreeNonces(sctx, e.ID, cosignerPk, nonceKps.PublicNonces())
			cancel()
			if err != nil {
				return nil, arkerror.ArkServer("failed to submit vtxo nonce tree")
			}
			step = step.next()

		case ev.TreeNonces != nil:
			if step != StepBatchSigningStarted {
				continue
			}
			e := ev.TreeNonces
			pubNonces[e.Txid] = append(pubNonces[e.Txid], e.PubNonce)

			if vtxoGraph != nil && len(pubNonces) == vtxoGraph.NbOfNodes() && allComplete(pubNonces, vtxoGraph) {
				partialSigTree, err := c.signBatchTree(vtxoGraph, unsignedCommitmentTx, cosignerKey, pubNonces, nonceKps)
				if err != nil {
					return nil, err
				}
				sctx, cancel := c.withTimeout(ctx)
				err = c.transport.SubmitTreeSignatures(sctx, e.ID, cosignerPk, partialSigTree)
				cancel()
				if err != nil {
					return nil, arkerror.ArkServer("failed to submit vtxo tree signatures")
				}
			}

		case ev.TreeNoncesAggregated != nil:
			continue

		case ev.BatchFinalization != nil:
			if step != StepBatchSigningStarted {
				continue
			}
			e := ev.BatchFinalization
			signedForfeits, signedCommitment, err := c.finalizeBatch(ctx, vtxoInputs, onchainInputs, connectorGraphChunks, e.CommitmentTx)
			if err != nil {
				return nil, err
			}
			sctx, cancel := c.withTimeout(ctx)
			err = c.transport.SubmitSignedForfeitTxs(sctx, signedForfeits, signedCommitment)
			cancel()
			if err != nil {
				return nil, arkerror.ArkServer("failed to submit signed forfeit transactions")
			}
			step = step.next()

		case ev.BatchFinalized != nil:
			if step != StepFinalized {
				continue
			}
			e := ev.BatchFinalized
			c.log.WithFields(logrus.Fields{"batch_id": batchID, "commitment_txid": e.CommitmentTxid}).Info("batch finalized")
			txid := e.CommitmentTxid
			return &txid, nil

		case ev.BatchFailed != nil:
			e := ev.BatchFailed
			if e.ID == batchID {
				return nil, arkerror.ArkServerf("batch %s failed: %s", e.ID, e.Reason)
			}
			c.log.WithField("batch_id", e.ID).Debug("unrelated batch failed")
		}
	}
}

func intentAdmitted(e *BatchStartedEvent, intentID string) bool {
	if e.HashOfIntentID == nil {
		return true
	}
	want := e.HashOfIntentID(intentID)
	for _, h := range e.IntentIDHashes {
		if h == want {
			return true
		}
	}
	return false
}

func containsCosignerPk(pks []*btcec.PublicKey, target *btcec.PublicKey) bool {
	want := schnorr.SerializePubKey(target)
	for _, pk := range pks {
		if bytes.Equal(schnorr.SerializePubKey(pk), want) {
			return true
		}
	}
	return false
}

func allComplete(pubNonces map[chainhash.Hash][][66]byte, graph *txgraph.Graph) bool {
	nodes := graph.AsMap()
	for txid := range nodes {
		if len(pubNonces[txid]) == 0 {
			return false
		}
	}
	return true
}

// signBatchTree aggregates nonces and produces this cosigner's partial
// signature for every node of the VTXO tree.
func (c *Client) signBatchTree(graph *txgraph.Graph, commitmentTx *psbt.Packet, cosignerKey *btcec.PrivateKey, pubNonces map[chainhash.Hash][][66]byte, ownNonces *batch.NonceKps) (PartialSigTree, error) {
	out := make(PartialSigTree)
	for txid := range graph.AsMap() {
		aggNonce, err := batch.AggregateNonces(pubNonces[txid])
		if err != nil {
			return nil, err
		}
		partialSig, err := batch.SignBatchTreeTx(txid, c.ServerInfo.VtxoTreeExpiry, c.ServerInfo.Pk, cosignerKey, aggNonce, graph, commitmentTx, ownNonces)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := partialSig.Encode(&buf); err != nil {
			return nil, arkerror.Crypto("failed to encode partial signature", err)
		}
		out[txid] = buf.Bytes()
	}
	return out, nil
}

// finalizeBatch signs every forfeit transaction for this client's VTXO
// inputs and, if any boarding input participates, the commitment PSBT
// itself.
func (c *Client) finalizeBatch(ctx context.Context, vtxoInputs []batch.VtxoInput, onchainInputs []batch.OnChainInput, connectorChunks []txgraph.Chunk, commitmentTx *psbt.Packet) ([]*psbt.Packet, *psbt.Packet, error) {
	var forfeitTxs []*psbt.Packet
	if len(vtxoInputs) > 0 {
		connectorGraph, err := txgraph.New(connectorChunks)
		if err != nil {
			return nil, nil, arkerror.Context("failed to build connectors graph", err)
		}

		forfeitScript, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_1).
			AddData(c.ServerInfo.ForfeitPk.SerializeCompressed()[1:]).
			Script()
		if err != nil {
			return nil, nil, arkerror.Transaction("failed to build server forfeit script", err)
		}

		forfeitTxs, err = batch.CreateAndSignForfeitTxs(vtxoInputs, connectorGraph.Leaves(), forfeitScript, c.ServerInfo.Dust, func(msg [32]byte, vtxo *arklib.Vtxo) (*schnorr.Signature, *btcec.PublicKey, error) {
			return c.signForOwnKey(msg)
		})
		if err != nil {
			return nil, nil, arkerror.Context("failed to sign forfeit transactions", err)
		}
	}

	if len(onchainInputs) == 0 {
		return forfeitTxs, nil, nil
	}

	err := batch.SignCommitmentPsbt(func(ownerPk *btcec.PublicKey, msg [32]byte) (*schnorr.Signature, error) {
		sig, err := c.boarding.SignForPk(ctx, ownerPk, msg)
		if err != nil {
			return nil, err
		}
		if verr := sigverify.Verify(ownerPk, msg[:], sig); verr != nil {
			return nil, arkerror.Context("boarding wallet produced an invalid commitment signature", verr)
		}
		return sig, nil
	}, commitmentTx, onchainInputs)
	if err != nil {
		return nil, nil, err
	}

	return forfeitTxs, commitmentTx, nil
}
