package ethereum

import (
	"context"
	"errors"
	"net"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// classify maps node and transport errors onto adapter codes. Errors that
// already carry a code pass through unchanged.
func classify(err error, fallback xerrors.Code, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeCancelled, err, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(web3.CodeNetworkError, err, "node request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return xerrors.Wrap(web3.CodeNetworkError, err, "")
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == 429 || httpErr.StatusCode >= 500) {
		return xerrors.Wrap(web3.CodeNetworkError, err, httpErr.Status)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "exceeds balance"),
		strings.Contains(lower, "insufficient-balance"):
		return xerrors.Wrap(web3.CodeInsufficientFunds, err, "")
	case strings.Contains(lower, "insufficient_output_amount"),
		strings.Contains(lower, "excessive_input_amount"):
		return xerrors.Wrap(web3.CodeSlippageExceeded, err, "")
	case strings.Contains(lower, "insufficient_liquidity"),
		strings.Contains(lower, "insufficient_input_amount"):
		return xerrors.Wrap(web3.CodeInsufficientLiquidity, err, "")
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "no such host"),
		lower == "eof",
		strings.HasSuffix(lower, ": eof"):
		return xerrors.Wrap(web3.CodeNetworkError, err, "")
	}
	return xerrors.Wrap(fallback, err, message)
}
