package client

import (
	"context"
	"time"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/sigverify"
	"github.com/arkwire/ark-client-core/pkg/explorer"
	"github.com/arkwire/ark-client-core/pkg/wallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
)

// Client is the entry point to the Ark client core: it owns the
// connection to a single Ark server, the onchain/boarding wallet and
// chain-data collaborators, and offers the batch protocol, offchain
// transfer, and history operations on top of them, grounded on
// `OfflineClient`/`Client` in original_source/ark-client/src/lib.rs.
type Client struct {
	Name string
	Kp   *btcec.PrivateKey

	transport  TransportClient
	blockchain explorer.Blockchain
	boarding   wallet.BoardingWallet
	onchain    wallet.OnchainWallet

	// Timeout bounds every blocking RPC/blockchain call this client
	// makes, mirroring the `timeout_op` wrapper in
	// original_source/ark-client/src/batch.rs. Zero means no timeout.
	Timeout time.Duration

	ServerInfo *ServerInfo

	log logrus.FieldLogger
}

// New constructs a Client bound to a single Ark server. It does not
// dial or fetch server info; call Connect for that.
func New(name string, kp *btcec.PrivateKey, transport TransportClient, blockchain explorer.Blockchain, boarding wallet.BoardingWallet, onchain wallet.OnchainWallet) *Client {
	return &Client{
		Name:       name,
		Kp:         kp,
		transport:  transport,
		blockchain: blockchain,
		boarding:   boarding,
		onchain:    onchain,
		log:        logrus.WithField("component", "client"),
	}
}

// Connect fetches and caches the server's advertised configuration.
// Client methods that need ServerInfo return a "client not connected"
// error if called before Connect succeeds.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.transport.GetInfo(ctx)
	if err != nil {
		return arkerror.ArkServerf("failed to fetch server info: %v", err)
	}
	c.ServerInfo = info
	c.log.WithFields(logrus.Fields{"network": info.Network, "dust": info.Dust}).Info("connected to ark server")
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func (c *Client) kp() *btcec.PrivateKey { return c.Kp }

// signForOwnKey produces a verified Schnorr signature over msg under the
// client's own key, used for forfeit and proof-of-funds signing where
// the client signs for itself rather than delegating to the wallet
// collaborator.
func (c *Client) signForOwnKey(msg [32]byte) (*schnorr.Signature, *btcec.PublicKey, error) {
	sig, err := schnorr.Sign(c.Kp, msg[:])
	if err != nil {
		return nil, nil, arkerror.Crypto("failed to sign with client key", err)
	}
	pk := c.Kp.PubKey()
	if err := sigverify.Verify(pk, msg[:], sig); err != nil {
		return nil, nil, arkerror.Context("freshly produced signature failed self-verification", err)
	}
	return sig, pk, nil
}

// GetOffchainAddress derives this client's single deterministic Ark
// address: server key plus owner key, no extra tapscript leaves.
func (c *Client) GetOffchainAddress() (*arklib.ArkAddress, *arklib.Vtxo, error) {
	if c.ServerInfo == nil {
		return nil, nil, arkerror.AdHoc("client not connected")
	}
	vtxo, err := arklib.NewVtxo(c.ServerInfo.Pk, c.Kp.PubKey(), c.ServerInfo.UnilateralExitDelay, nil, c.ServerInfo.Network)
	if err != nil {
		return nil, nil, err
	}
	return vtxo.Address(), vtxo, nil
}

// GetBoardingAddress derives a fresh boarding output via the onchain
// wallet collaborator and returns its address.
func (c *Client) GetBoardingAddress(ctx context.Context) (*arklib.ArkAddress, error) {
	if c.ServerInfo == nil {
		return nil, arkerror.AdHoc("client not connected")
	}
	out, err := c.boarding.NewBoardingOutput(ctx, c.ServerInfo.Pk, c.ServerInfo.BoardingExitDelay, c.ServerInfo.Network)
	if err != nil {
		return nil, arkerror.Context("failed to derive boarding output", err)
	}
	return out.Address()
}

// GetOnchainAddress returns the wallet's plain on-chain receive address.
func (c *Client) GetOnchainAddress(ctx context.Context) (btcutil.Address, error) {
	addr, err := c.onchain.GetOnchainAddress(ctx)
	if err != nil {
		return nil, arkerror.Context("failed to fetch onchain address", err)
	}
	return addr, nil
}

// ListVtxos fetches the spent and spendable VTXOs for the client's
// offchain address, grounded on `Client::list_vtxos` in
// original_source/ark-client/src/lib.rs.
func (c *Client) ListVtxos(ctx context.Context) (*arklib.VtxoList, error) {
	if c.ServerInfo == nil {
		return nil, arkerror.AdHoc("client not connected")
	}
	addr, _, err := c.GetOffchainAddress()
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	list, err := c.transport.ListVtxos(ctx, addr)
	if err != nil {
		return nil, arkerror.ArkServer("failed to list vtxos")
	}
	return list, nil
}

// SpendableVtxos returns the VTXOs this client can pledge to a batch,
// including recoverable ones only if selectRecoverable is set.
func (c *Client) SpendableVtxos(ctx context.Context, selectRecoverable bool) ([]*arklib.VirtualTxOutPoint, error) {
	list, err := c.ListVtxos(ctx)
	if err != nil {
		return nil, err
	}
	if selectRecoverable {
		return list.SpendableWithRecoverable(), nil
	}
	return list.SpendableWithoutRecoverable(), nil
}

// OffchainBalance sums the non-recoverable spendable VTXO set, split by
// whether each VTXO is still only preconfirmed.
func (c *Client) OffchainBalance(ctx context.Context) (pending, confirmed int64, err error) {
	vtxos, err := c.SpendableVtxos(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	for _, v := range vtxos {
		if v.IsPreconfirmed {
			pending += v.Amount
		} else {
			confirmed += v.Amount
		}
	}
	return pending, confirmed, nil
}

// TransactionHistory reconstructs the display-ready transaction log by
// combining boarding UTXOs observed on-chain with the offchain VTXO
// history the server reports, delegating the reconstruction algorithm
// to arklib.ReconstructHistory.
func (c *Client) TransactionHistory(ctx context.Context) ([]arklib.TxRecord, error) {
	list, err := c.ListVtxos(ctx)
	if err != nil {
		return nil, err
	}

	boardingOutputs, err := c.boarding.GetBoardingOutputs(ctx)
	if err != nil {
		return nil, arkerror.Context("failed to list boarding outputs", err)
	}

	var boardingRecords []arklib.BoardingRecord
	var boardingCommitmentTxids []string
	for _, out := range boardingOutputs {
		spk, err := out.ScriptPubKey()
		if err != nil {
			return nil, err
		}
		utxos, err := c.blockchain.FindOutpoints(ctx, spk)
		if err != nil {
			return nil, arkerror.Context("failed to find boarding utxos", err)
		}
		for _, u := range utxos {
			txid := u.Outpoint.Hash.String()
			boardingCommitmentTxids = append(boardingCommitmentTxids, txid)
			if u.ConfirmationTime != nil {
				boardingRecords = append(boardingRecords, arklib.BoardingRecord{
					Txid: txid, Amount: u.Amount, ConfirmedAt: u.ConfirmationTime,
				})
			}
		}
	}

	return arklib.ReconstructHistory(list.Spent, list.Spendable, boardingCommitmentTxids, boardingRecords), nil
}

// BumpTx builds a CPFP spend of parent's anchor output, funded and
// signed by the onchain wallet, grounded on `Client::bump_tx` in
// original_source/ark-client/src/lib.rs.
func (c *Client) BumpTx(ctx context.Context, parent *wire.MsgTx) (*wire.MsgTx, error) {
	feeRate, err := c.blockchain.GetFeeRate(ctx)
	if err != nil {
		return nil, arkerror.Context("failed to fetch fee rate", err)
	}

	changeAddr, err := c.onchain.GetOnchainAddress(ctx)
	if err != nil {
		return nil, arkerror.Context("failed to fetch change address", err)
	}

	pkt, err := buildAnchorTx(parent, changeAddr, feeRate, func(target int64) (*wallet.UtxoCoinSelection, error) {
		return c.onchain.SelectCoins(ctx, target)
	})
	if err != nil {
		return nil, err
	}

	ok, err := c.onchain.Sign(ctx, pkt)
	if err != nil {
		return nil, arkerror.Context("failed to sign anchor bump transaction", err)
	}
	if !ok {
		return nil, arkerror.AdHoc("wallet did not sign every input of the anchor bump transaction")
	}

	return psbtExtract(pkt)
}
