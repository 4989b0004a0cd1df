package vhtlc

import (
	"testing"

	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	sender, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiver, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	server, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return Options{
		Sender:                                sender.PubKey(),
		Receiver:                              receiver.PubKey(),
		Server:                                server.PubKey(),
		PreimageHash:                          [20]byte{1, 2, 3},
		RefundLocktime:                        800000,
		UnilateralClaimDelay:                  Delay{Blocks: 100},
		UnilateralRefundDelay:                 Delay{Blocks: 200},
		UnilateralRefundWithoutReceiverDelay:  Delay{Blocks: 300},
	}
}

func TestVhtlcBuildsSixLeaves(t *testing.T) {
	opts := testOptions(t)
	s, err := New(opts, arklib.NetworkRegtest)
	require.NoError(t, err)

	leaves := s.Tapscripts()
	require.Len(t, leaves, 6)
	for _, l := range leaves {
		require.NotEmpty(t, l)
	}

	for _, l := range leaves {
		_, err := s.SpendInfo.ControlBlockFor(l)
		require.NoError(t, err)
	}
}

func TestVhtlcDeterministicOutputKey(t *testing.T) {
	opts := testOptions(t)
	a, err := New(opts, arklib.NetworkRegtest)
	require.NoError(t, err)
	b, err := New(opts, arklib.NetworkRegtest)
	require.NoError(t, err)

	spkA, err := a.ScriptPubKey()
	require.NoError(t, err)
	spkB, err := b.ScriptPubKey()
	require.NoError(t, err)
	require.Equal(t, spkA, spkB)
}

func TestVhtlcValidateRejectsZeroRefundLocktime(t *testing.T) {
	opts := testOptions(t)
	opts.RefundLocktime = 0
	require.Error(t, opts.Validate())
}

func TestVhtlcValidateRejectsZeroDelay(t *testing.T) {
	opts := testOptions(t)
	opts.UnilateralClaimDelay = Delay{}
	require.Error(t, opts.Validate())
}

func TestVhtlcSecondsDelayMustBeMultipleOf512(t *testing.T) {
	opts := testOptions(t)
	opts.UnilateralRefundDelay = Delay{Seconds: 511}
	_, err := New(opts, arklib.NetworkRegtest)
	require.Error(t, err)
}
