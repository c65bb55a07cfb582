package sql

import (
	"time"

	"github.com/google/uuid"
)

// StringField is a typed string column that provides type-safe
// predicate methods. The generated code declares one constant per
// string field instead of one function per field and operator.
//
// Usage:
//
//	var Email = sql.StringField("email")
//	query.Where(user.Email.EQ("test@example.com"))
//	query.Where(user.Email.Contains("@gmail"))
type StringField string

// Name returns the column name.
func (f StringField) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f StringField) EQ(v string) *Filter { return EQ(string(f), v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f StringField) NEQ(v string) *Filter { return NEQ(string(f), v) }

// In returns a predicate that checks if the field value is in the given list.
func (f StringField) In(vs ...string) *Filter { return In(string(f), anySlice(vs)...) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f StringField) NotIn(vs ...string) *Filter { return NotIn(string(f), anySlice(vs)...) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f StringField) GT(v string) *Filter { return GT(string(f), v) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f StringField) GTE(v string) *Filter { return GTE(string(f), v) }

// LT returns a predicate that checks if the field is less than the given value.
func (f StringField) LT(v string) *Filter { return LT(string(f), v) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f StringField) LTE(v string) *Filter { return LTE(string(f), v) }

// Contains returns a predicate that checks if the field contains the given substring.
func (f StringField) Contains(v string) *Filter { return Contains(string(f), v) }

// ContainsFold returns a predicate that checks if the field contains the given substring (case-insensitive).
func (f StringField) ContainsFold(v string) *Filter { return ContainsFold(string(f), v) }

// HasPrefix returns a predicate that checks if the field has the given prefix.
func (f StringField) HasPrefix(v string) *Filter { return HasPrefix(string(f), v) }

// HasSuffix returns a predicate that checks if the field has the given suffix.
func (f StringField) HasSuffix(v string) *Filter { return HasSuffix(string(f), v) }

// IsNull returns a predicate that checks if the field is NULL.
func (f StringField) IsNull() *Filter { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f StringField) NotNull() *Filter { return NotNull(string(f)) }

// Ordered is the constraint for columns with a total order.
type Ordered interface {
	~int | ~int32 | ~int64 | ~float64
}

// NumericField is a typed numeric column. One generic type covers Int,
// BigInt, Float and Decimal schema fields.
type NumericField[T Ordered] string

// Name returns the column name.
func (f NumericField[T]) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f NumericField[T]) EQ(v T) *Filter { return EQ(string(f), v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f NumericField[T]) NEQ(v T) *Filter { return NEQ(string(f), v) }

// In returns a predicate that checks if the field value is in the given list.
func (f NumericField[T]) In(vs ...T) *Filter { return In(string(f), anySlice(vs)...) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f NumericField[T]) NotIn(vs ...T) *Filter { return NotIn(string(f), anySlice(vs)...) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f NumericField[T]) GT(v T) *Filter { return GT(string(f), v) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f NumericField[T]) GTE(v T) *Filter { return GTE(string(f), v) }

// LT returns a predicate that checks if the field is less than the given value.
func (f NumericField[T]) LT(v T) *Filter { return LT(string(f), v) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f NumericField[T]) LTE(v T) *Filter { return LTE(string(f), v) }

// IsNull returns a predicate that checks if the field is NULL.
func (f NumericField[T]) IsNull() *Filter { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f NumericField[T]) NotNull() *Filter { return NotNull(string(f)) }

// IntField is a numeric column holding int values.
type IntField = NumericField[int]

// Int64Field is a numeric column holding int64 values.
type Int64Field = NumericField[int64]

// FloatField is a numeric column holding float64 values.
type FloatField = NumericField[float64]

// BoolField is a typed boolean column.
type BoolField string

// Name returns the column name.
func (f BoolField) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f BoolField) EQ(v bool) *Filter { return EQ(string(f), v) }

// IsTrue returns a predicate that checks if the field is true.
func (f BoolField) IsTrue() *Filter { return EQ(string(f), true) }

// IsFalse returns a predicate that checks if the field is false.
func (f BoolField) IsFalse() *Filter { return EQ(string(f), false) }

// IsNull returns a predicate that checks if the field is NULL.
func (f BoolField) IsNull() *Filter { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f BoolField) NotNull() *Filter { return NotNull(string(f)) }

// TimeField is a typed time column.
type TimeField string

// Name returns the column name.
func (f TimeField) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f TimeField) EQ(v time.Time) *Filter { return EQ(string(f), v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f TimeField) NEQ(v time.Time) *Filter { return NEQ(string(f), v) }

// Before returns a predicate that checks if the field is before the given time.
func (f TimeField) Before(v time.Time) *Filter { return LT(string(f), v) }

// After returns a predicate that checks if the field is after the given time.
func (f TimeField) After(v time.Time) *Filter { return GT(string(f), v) }

// Between returns a predicate that checks if the field is within [from, to].
func (f TimeField) Between(from, to time.Time) *Filter {
	return And(GTE(string(f), from), LTE(string(f), to))
}

// IsNull returns a predicate that checks if the field is NULL.
func (f TimeField) IsNull() *Filter { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f TimeField) NotNull() *Filter { return NotNull(string(f)) }

// UUIDField is a typed UUID column.
type UUIDField string

// Name returns the column name.
func (f UUIDField) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f UUIDField) EQ(v uuid.UUID) *Filter { return EQ(string(f), v.String()) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f UUIDField) NEQ(v uuid.UUID) *Filter { return NEQ(string(f), v.String()) }

// In returns a predicate that checks if the field value is in the given list.
func (f UUIDField) In(vs ...uuid.UUID) *Filter {
	args := make([]any, len(vs))
	for i, v := range vs {
		args[i] = v.String()
	}
	return In(string(f), args...)
}

// IsNull returns a predicate that checks if the field is NULL.
func (f UUIDField) IsNull() *Filter { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f UUIDField) NotNull() *Filter { return NotNull(string(f)) }

func anySlice[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
