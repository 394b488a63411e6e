package chain

import (
	"fmt"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
)

// =============================================================================
// Stack Item Parsers
// =============================================================================

// FirstValue returns the top stack item of a halted invocation.
func FirstValue(resp *Response) (stackitem.Item, error) {
	if resp == nil {
		return nil, fmt.Errorf("no response")
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if len(resp.ReturnValues) == 0 {
		return nil, fmt.Errorf("no result")
	}
	return resp.ReturnValues[0], nil
}

// ParseBoolean parses a contract boolean. Integers are accepted the way the VM
// converts them.
func ParseBoolean(item stackitem.Item) (bool, error) {
	switch item.Type() {
	case stackitem.BooleanT, stackitem.IntegerT:
		return item.TryBool()
	default:
		return false, fmt.Errorf("expected Boolean, got %s", item.Type())
	}
}

// ParseInteger parses an integer result.
func ParseInteger(item stackitem.Item) (*big.Int, error) {
	switch item.Type() {
	case stackitem.IntegerT, stackitem.BooleanT, stackitem.ByteArrayT, stackitem.BufferT:
		return item.TryInteger()
	case stackitem.AnyT:
		return big.NewInt(0), nil
	default:
		return nil, fmt.Errorf("expected Integer, got %s", item.Type())
	}
}

// ParseByteArray parses a ByteString or Buffer result.
func ParseByteArray(item stackitem.Item) ([]byte, error) {
	switch item.Type() {
	case stackitem.ByteArrayT, stackitem.BufferT:
		return item.TryBytes()
	default:
		return nil, fmt.Errorf("expected ByteString, got %s", item.Type())
	}
}
