package arkerror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStrings(t *testing.T) {
	require.Equal(t, "ad_hoc", KindAdHoc.String())
	require.Equal(t, "crypto", KindCrypto.String())
	require.Equal(t, "transaction", KindTransaction.String())
	require.Equal(t, "ark_server", KindArkServer.String())
	require.Equal(t, "coin_select", KindCoinSelect.String())
}

func TestAdHocErrorMessage(t *testing.T) {
	err := AdHoc("something broke")
	require.Equal(t, "ad_hoc: something broke", err.Error())
	require.Equal(t, KindAdHoc, err.Kind)
}

func TestAdHocfFormats(t *testing.T) {
	err := AdHocf("expected %d got %d", 1, 2)
	require.Equal(t, "ad_hoc: expected 1 got 2", err.Error())
}

func TestCryptoWrapsUnderlyingError(t *testing.T) {
	inner := errors.New("boom")
	err := Crypto("sig failed", inner)
	require.Equal(t, "crypto: sig failed: boom", err.Error())
	require.ErrorIs(t, err, inner)
}

func TestTransactionAndTransactionf(t *testing.T) {
	err := Transaction("bad psbt", errors.New("x"))
	require.Equal(t, KindTransaction, err.Kind)

	errf := Transactionf("bad field %s", "foo")
	require.Equal(t, "transaction: bad field foo", errf.Error())
}

func TestArkServerAndArkServerf(t *testing.T) {
	err := ArkServer("server rejected")
	require.Equal(t, KindArkServer, err.Kind)

	errf := ArkServerf("round %d failed", 3)
	require.Equal(t, "ark_server: round 3 failed", errf.Error())
}

func TestCoinSelect(t *testing.T) {
	err := CoinSelect("insufficient funds")
	require.Equal(t, KindCoinSelect, err.Kind)
}

func TestContextPreservesKindOfWrappedArkError(t *testing.T) {
	base := Crypto("sig failed", errors.New("boom"))
	wrapped := Context("while signing input 0", base)

	wrappedErr, ok := wrapped.(*Error)
	require.True(t, ok)
	require.Equal(t, KindCrypto, wrappedErr.Kind)
	require.Contains(t, wrapped.Error(), "while signing input 0")
}

func TestContextWrapsPlainErrorAsAdHoc(t *testing.T) {
	wrapped := Context("doing a thing", errors.New("plain"))
	wrappedErr, ok := wrapped.(*Error)
	require.True(t, ok)
	require.Equal(t, KindAdHoc, wrappedErr.Kind)
}

func TestContextNilErrorReturnsNil(t *testing.T) {
	require.Nil(t, Context("msg", nil))
}

func TestIsDispatchesThroughWrappedChain(t *testing.T) {
	base := CoinSelect("no funds")
	wrapped := Context("ctx1", base)
	wrapped2 := Context("ctx2", wrapped)

	require.True(t, Is(wrapped2, KindCoinSelect))
	require.False(t, Is(wrapped2, KindCrypto))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("plain"), KindAdHoc))
}
