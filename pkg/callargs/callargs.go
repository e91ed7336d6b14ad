// Package callargs packs the arguments of a dynamically constructed
// procedure call.
//
// A call frame reserves its first two slots: slot 0 carries the call text and
// slot 1 the TemplateArgs bundle describing the declared parameters. Argument
// i is stored in slot i+2.
package callargs

import (
	"github.com/shopspring/decimal"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/telemetry"
)

// MaxArgs is the engine's ceiling on call arguments, reserved slots included.
const MaxArgs = 100

const (
	slotCallText = iota
	slotTemplateArgs
	reservedSlots
)

// Mode is a parameter direction.
type Mode byte

const (
	ModeIn    Mode = 'i'
	ModeOut   Mode = 'o'
	ModeInOut Mode = 'b'
)

func (m Mode) String() string {
	switch m {
	case ModeIn:
		return "IN"
	case ModeOut:
		return "OUT"
	case ModeInOut:
		return "INOUT"
	default:
		return "UNKNOWN"
	}
}

// Argument is one declared parameter with its bound value.
type Argument struct {
	Type   callsig.OID
	Typmod int32
	Name   string
	Mode   Mode
	Value  any
	IsNull bool
}

// TemplateArgs describes the declared parameters of the call, index-aligned
// with the frame's argument slots.
type TemplateArgs struct {
	Types   [MaxArgs]callsig.OID
	Typmods [MaxArgs]int32
	Names   [MaxArgs]string
	Modes   [MaxArgs]Mode
	NumArgs int
}

// Datum is a frame slot.
type Datum struct {
	Value  any
	IsNull bool
}

// Frame is a fixed-capacity call frame. NArgs counts every slot written,
// reserved ones included.
type Frame struct {
	Args  [MaxArgs]Datum
	NArgs int

	declared int // highest declared index + 1
}

// SetCallText stores the call text in slot 0.
func (f *Frame) SetCallText(text string) error {
	return f.setReserved(slotCallText, text)
}

// SetTemplateArgs stores the parameter bundle in slot 1.
func (f *Frame) SetTemplateArgs(meta *TemplateArgs) error {
	return f.setReserved(slotTemplateArgs, meta)
}

func (f *Frame) setReserved(slot int, v any) error {
	if err := f.grow(); err != nil {
		return err
	}
	f.Args[slot] = Datum{Value: v}
	return nil
}

// Declare records arg as parameter index. When meta is nil only the value is
// written, which is enough to re-execute a prepared call.
//
// Declare fails with ErrCodeTooManyArguments once the frame holds MaxArgs
// values; slots already written are left as they were.
func (f *Frame) Declare(arg Argument, index int, meta *TemplateArgs) error {
	if index < 0 {
		return errors.Newf(errors.ErrCodeUsage, "invalid argument index %d", index).
			WithOp("callargs.Declare").
			Err()
	}
	if index+reservedSlots >= MaxArgs {
		return tooMany()
	}
	if err := f.grow(); err != nil {
		return err
	}

	if meta != nil {
		meta.Types[index] = arg.Type
		meta.Typmods[index] = arg.Typmod
		meta.Names[index] = arg.Name
		meta.Modes[index] = arg.Mode
		if index >= meta.NumArgs {
			meta.NumArgs = index + 1
		}
	}

	if index >= f.declared {
		f.declared = index + 1
	}

	slot := &f.Args[index+reservedSlots]
	slot.IsNull = arg.IsNull
	if arg.IsNull {
		slot.Value = nil
		return nil
	}
	slot.Value = normalize(arg)
	return nil
}

// Values returns the argument values up to the highest declared index,
// whether or not the reserved slots were set.
func (f *Frame) Values() []Datum {
	if f.declared == 0 {
		return nil
	}
	out := make([]Datum, f.declared)
	copy(out, f.Args[reservedSlots:reservedSlots+f.declared])
	return out
}

func (f *Frame) grow() error {
	if f.NArgs+1 > MaxArgs {
		return tooMany()
	}
	f.NArgs++
	return nil
}

func tooMany() error {
	telemetry.ArgumentOverflowsTotal.Inc()
	return errors.Newf(errors.ErrCodeTooManyArguments,
		"cannot pass more than %d arguments to a procedure", MaxArgs).
		WithOp("callargs.Declare").
		Err()
}

// normalize rounds numeric values to the scale their typmod declares.
func normalize(arg Argument) any {
	d, ok := arg.Value.(decimal.Decimal)
	if !ok || arg.Type != callsig.OIDNumeric || arg.Typmod < typmodHeader {
		return arg.Value
	}
	return d.Round(NumericScale(arg.Typmod))
}

const typmodHeader = 4

// NumericScale extracts the scale from a numeric typmod.
func NumericScale(typmod int32) int32 {
	return (typmod - typmodHeader) & 0xffff
}

// NumericPrecision extracts the precision from a numeric typmod.
func NumericPrecision(typmod int32) int32 {
	return ((typmod - typmodHeader) >> 16) & 0xffff
}

// NumericTypmod builds the typmod for numeric(precision, scale).
func NumericTypmod(precision, scale int32) int32 {
	return (precision<<16 | scale) + typmodHeader
}
