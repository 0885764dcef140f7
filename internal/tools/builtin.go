package tools

import "ChainPilot/internal/web3"

// Built-in tool names.
const (
	GetBalance          = "get_balance"
	Transfer            = "transfer"
	Swap                = "swap"
	QueryContract       = "query_contract"
	CheckContract       = "check_contract"
	SearchDocs          = "search_docs"
	GetDocument         = "get_document"
	SearchWeb           = "search_web"
	ListSupportedTokens = "list_supported_tokens"
	GetTokenPrice       = "get_token_price"
	BindAlias           = "bind_alias"
)

// Builtin returns the schemas of the tools ChainPilot ships with.
func Builtin() []Schema {
	return []Schema{
		{
			Name:        GetBalance,
			Description: "Get the ETH or ERC20 token balance of an account.",
			Kind:        KindChain,
			Params: []Param{
				{Name: "account", Type: TypeAccount, Required: true, Description: "Account name (e.g. alice) or 0x address."},
				{Name: "token", Type: TypeToken, Default: web3.NativeSymbol, Description: "Token symbol or contract address; defaults to ETH."},
			},
			Result: "balance in human units with the token symbol",
		},
		{
			Name:        Transfer,
			Description: "Send ETH or an ERC20 token from one account to another.",
			Kind:        KindChain,
			Detached:    true,
			Params: []Param{
				{Name: "from", Type: TypeAccount, Required: true, Description: "Sending account name or 0x address."},
				{Name: "to", Type: TypeAccount, Required: true, Description: "Recipient account name or 0x address."},
				{Name: "amount", Type: TypeAmount, Required: true, TokenParam: "token", Description: "Amount in human units, e.g. \"1.5\"."},
				{Name: "token", Type: TypeToken, Default: web3.NativeSymbol, Description: "Token symbol; defaults to ETH."},
			},
			Result: "transaction hash and resulting balances of sender and recipient",
		},
		{
			Name:        Swap,
			Description: "Swap tokens on Uniswap V2 with a slippage bound.",
			Kind:        KindChain,
			Detached:    true,
			Params: []Param{
				{Name: "account", Type: TypeAccount, Required: true, Description: "Account performing the swap."},
				{Name: "amount_in", Type: TypeAmount, Required: true, TokenParam: "token_in", Description: "Amount of token_in to sell, in human units."},
				{Name: "token_in", Type: TypeToken, Default: web3.NativeSymbol, Description: "Token to sell; defaults to ETH."},
				{Name: "token_out", Type: TypeToken, Required: true, Description: "Token to buy."},
				{Name: "max_slippage_bps", Type: TypeBps, Description: "Maximum slippage in basis points (50 = 0.5%)."},
			},
			Result: "transaction hash, quoted and minimum output, resulting balances",
		},
		{
			Name:        QueryContract,
			Description: "Call a read-only ERC20 or Uniswap router method on a contract.",
			Kind:        KindChain,
			Params: []Param{
				{Name: "address", Type: TypeAddress, Required: true, Description: "Contract address."},
				{Name: "method", Type: TypeString, Required: true, Description: "Method name, e.g. symbol, decimals, totalSupply, balanceOf."},
				{Name: "args", Type: TypeStrings, Description: "Method arguments as strings."},
			},
			Result: "decoded return values",
		},
		{
			Name:        CheckContract,
			Description: "Check whether a contract is deployed at an address.",
			Kind:        KindChain,
			Params: []Param{
				{Name: "address", Type: TypeAddress, Required: true, Description: "Address to inspect."},
			},
			Result: "whether code is deployed",
		},
		{
			Name:        SearchDocs,
			Description: "Search the Uniswap and ERC20 documentation knowledge base.",
			Kind:        KindLocal,
			Params: []Param{
				{Name: "query", Type: TypeString, Required: true, Description: "What to look for."},
				{Name: "limit", Type: TypeInteger, Default: "3", Min: 1, Max: 10, Description: "Number of passages."},
			},
			Result: "matching passages with their source",
		},
		{
			Name:        GetDocument,
			Description: "Fetch a full knowledge base document by id, e.g. an id returned by search_docs.",
			Kind:        KindLocal,
			Params: []Param{
				{Name: "id", Type: TypeString, Required: true, Description: "Document id (uniswap-v2/router.md) or passage id (uniswap-v2/router.md#0)."},
			},
			Result: "the document text and the passages it was built from",
		},
		{
			Name:        ListSupportedTokens,
			Description: "List the tokens that can be used with balance, transfer and swap.",
			Kind:        KindLocal,
			Result:      "token symbols, addresses and decimals",
		},
		{
			Name:        GetTokenPrice,
			Description: "Get the current USD price of a token.",
			Kind:        KindLocal,
			Params: []Param{
				{Name: "token", Type: TypeToken, Required: true, Description: "Token symbol."},
			},
			Result: "USD price",
		},
		{
			Name:        BindAlias,
			Description: "Remember a name for an address in this conversation, e.g. \"carol is 0x...\".",
			Kind:        KindLocal,
			Params: []Param{
				{Name: "alias", Type: TypeString, Required: true, Description: "Name to bind."},
				{Name: "address", Type: TypeAddress, Required: true, Description: "Address the name refers to."},
			},
			Result: "confirmation",
		},
	}
}

// WebSearch is the schema of search_web. It is registered only when a search
// API key is configured.
func WebSearch() Schema {
	return Schema{
		Name:        SearchWeb,
		Description: "Search the web for recent information the knowledge base does not cover.",
		Kind:        KindLocal,
		Params: []Param{
			{Name: "query", Type: TypeString, Required: true, Description: "Search query."},
			{Name: "count", Type: TypeInteger, Default: "5", Min: 1, Max: 20, Description: "Number of results."},
		},
		Result: "result titles, URLs and descriptions",
	}
}
