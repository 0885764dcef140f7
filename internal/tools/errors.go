package tools

import xerrors "ChainPilot/internal/errors"

const (
	CodeUnknownTool     xerrors.Code = "UNKNOWN_TOOL"
	CodeMissingArgument xerrors.Code = "MISSING_ARGUMENT"
	CodeInvalidAmount   xerrors.Code = "INVALID_AMOUNT"
	CodeInvalidAddress  xerrors.Code = "INVALID_ADDRESS"
	CodeUnknownToken    xerrors.Code = "UNKNOWN_TOKEN"
	CodeUnknownAlias    xerrors.Code = "UNKNOWN_ALIAS"
)

func init() {
	for code, msg := range map[xerrors.Code]string{
		CodeUnknownTool:     "unknown tool",
		CodeMissingArgument: "required argument missing",
		CodeInvalidAmount:   "invalid amount",
		CodeInvalidAddress:  "invalid address",
		CodeUnknownToken:    "unknown token",
		CodeUnknownAlias:    "unknown account alias",
	} {
		xerrors.Register(code, xerrors.Attributes{
			Message:  msg,
			Severity: xerrors.SeverityInfo,
			Category: xerrors.CategoryValidation,
		})
	}
}
