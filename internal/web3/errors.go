package web3

import xerrors "ChainPilot/internal/errors"

const (
	CodeAddressNotFound       xerrors.Code = "ADDRESS_NOT_FOUND"
	CodeInsufficientFunds     xerrors.Code = "INSUFFICIENT_FUNDS"
	CodeInvalidRecipient      xerrors.Code = "INVALID_RECIPIENT"
	CodeNetworkError          xerrors.Code = "NETWORK_ERROR"
	CodeSlippageExceeded      xerrors.Code = "SLIPPAGE_EXCEEDED"
	CodeInsufficientLiquidity xerrors.Code = "INSUFFICIENT_LIQUIDITY"
	CodeContractNotFound      xerrors.Code = "CONTRACT_NOT_FOUND"
	CodeDecodeError           xerrors.Code = "DECODE_ERROR"
	CodeTransactionReverted   xerrors.Code = "TRANSACTION_REVERTED"
	CodeAdapterFailure        xerrors.Code = "ADAPTER_FAILURE"
)

func init() {
	adapter := func(msg string, sev xerrors.Severity) xerrors.Attributes {
		return xerrors.Attributes{Message: msg, Severity: sev, Category: xerrors.CategoryAdapter}
	}
	xerrors.Register(CodeAddressNotFound, adapter("address has never been observed on chain", xerrors.SeverityInfo))
	xerrors.Register(CodeInsufficientFunds, adapter("insufficient funds", xerrors.SeverityInfo))
	xerrors.Register(CodeInvalidRecipient, adapter("invalid recipient", xerrors.SeverityInfo))
	xerrors.Register(CodeSlippageExceeded, adapter("price moved beyond the slippage bound", xerrors.SeverityInfo))
	xerrors.Register(CodeInsufficientLiquidity, adapter("insufficient liquidity for this trade", xerrors.SeverityInfo))
	xerrors.Register(CodeContractNotFound, adapter("no contract deployed at address", xerrors.SeverityInfo))
	xerrors.Register(CodeDecodeError, adapter("contract call could not be encoded or decoded", xerrors.SeverityWarning))
	xerrors.Register(CodeTransactionReverted, adapter("transaction reverted", xerrors.SeverityWarning))
	xerrors.Register(CodeAdapterFailure, xerrors.Attributes{
		Message:  "blockchain adapter failure",
		Severity: xerrors.SeverityCritical,
		Category: xerrors.CategoryAdapter,
		Alert:    true,
	})
	xerrors.Register(CodeNetworkError, xerrors.Attributes{
		Message:   "blockchain node unreachable",
		Severity:  xerrors.SeverityWarning,
		Category:  xerrors.CategoryAdapter,
		Retryable: true,
		Alert:     true,
	})
}
