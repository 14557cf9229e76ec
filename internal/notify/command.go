package notify

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the verb of a bot command.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// sellAllPercent is the amount field of a sell: the whole position.
const sellAllPercent = 100

// Command is one instruction to the external trading bot. Its wire form is
// address--ON--<target K>--<prefix><action>--<amount>.
type Command struct {
	TokenAddress string
	TargetPriceK decimal.Decimal // take-profit hint in thousands of USD; zero for sells
	Prefix       string
	Action       Action
	Amount       decimal.Decimal // SOL for buys, percent for sells
	Reason       string          // exit or entry tag, not part of the wire form
}

// Buy builds a buy command.
func Buy(address string, targetK decimal.Decimal, prefix string, amountSOL float64) Command {
	return Command{
		TokenAddress: address,
		TargetPriceK: targetK,
		Prefix:       prefix,
		Action:       ActionBuy,
		Amount:       decimal.NewFromFloat(amountSOL),
		Reason:       "entry",
	}
}

// Sell builds a sell-all command.
func Sell(address, prefix, reason string) Command {
	return Command{
		TokenAddress: address,
		Prefix:       prefix,
		Action:       ActionSell,
		Amount:       decimal.NewFromInt(sellAllPercent),
		Reason:       reason,
	}
}

// String renders the command in the bot's grammar. Buy targets carry two
// decimals; sells carry a bare 0.
func (c Command) String() string {
	target := "0"
	if c.Action == ActionBuy {
		target = c.TargetPriceK.StringFixed(2)
	}
	return fmt.Sprintf("%s--ON--%s--%s%s--%s", c.TokenAddress, target, c.Prefix, c.Action, c.Amount.String())
}
