package replay

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"orbitalEngine/internal/orbital"
)

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("%w: invalid address: %s", orbital.ErrValidation, input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

func parseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: invalid address: %q", orbital.ErrValidation, input)
	}
	return common.HexToAddress(input), nil
}

// parseAmount accepts base-10 or 0x-prefixed wei amounts.
func parseAmount(input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	var (
		value *big.Int
		err   error
	)
	if strings.HasPrefix(input, "0x") || strings.HasPrefix(input, "0X") {
		value, err = hexutil.DecodeBig(input)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid amount %q: %v", orbital.ErrValidation, input, err)
		}
	} else {
		var ok bool
		value, ok = new(big.Int).SetString(input, 10)
		if !ok {
			return nil, fmt.Errorf("%w: invalid amount %q", orbital.ErrValidation, input)
		}
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %q", orbital.ErrValidation, input)
	}
	amount, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: amount %q exceeds 256 bits", orbital.ErrValidation, input)
	}
	return amount, nil
}

// parseOptionalAmount maps an empty string to nil.
func parseOptionalAmount(input string) (*uint256.Int, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	return parseAmount(input)
}

func parseAmounts(inputs map[string]string) (map[common.Address]*uint256.Int, error) {
	out := make(map[common.Address]*uint256.Int, len(inputs))
	for key, value := range inputs {
		asset, err := parseAddress(key)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(value)
		if err != nil {
			return nil, err
		}
		out[asset] = amount
	}
	return out, nil
}

func parsePrice(input string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid price %q: %v", orbital.ErrValidation, input, err)
	}
	return price, nil
}
