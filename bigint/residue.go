package bigint

// Modulus supplies the constant N of a residue class.
type Modulus interface {
	Modulus() BigInt
}

// FixedModulus is a Modulus backed by a constant.
type FixedModulus BigInt

func (m FixedModulus) Modulus() BigInt { return BigInt(m) }

// Residue is an element of the integers modulo N. Multiplication goes
// through a Coprocessor, which a cooperative prover answers in reduced
// form; addition and subtraction are done locally and check that their
// inputs were reduced.
type Residue struct {
	val BigInt
	mod Modulus
	cp  Coprocessor
}

// NewResidue wraps val. A nil cp uses Host.
func NewResidue(val BigInt, mod Modulus, cp Coprocessor) *Residue {
	if cp == nil {
		cp = Host{}
	}
	return &Residue{val: val, mod: mod, cp: cp}
}

// Value returns the raw representative without checking it.
func (r *Residue) Value() BigInt { return r.val }

// Mul returns r*o mod N as a new residue.
func (r *Residue) Mul(o *Residue) (*Residue, error) {
	n := r.mod.Modulus()
	z, err := r.cp.MulMod(&r.val, &o.val, &n)
	if err != nil {
		return nil, err
	}
	return &Residue{val: z, mod: r.mod, cp: r.cp}, nil
}

// MulAssign sets r = r*o mod N.
func (r *Residue) MulAssign(o *Residue) error {
	n := r.mod.Modulus()
	z, err := r.cp.MulMod(&r.val, &o.val, &n)
	if err != nil {
		return err
	}
	r.val = z
	return nil
}

// AddAssign sets r = r+o mod N.
func (r *Residue) AddAssign(o *Residue) error {
	n := r.mod.Modulus()
	if r.val.AddAssign(&o.val) {
		// The true sum is 2^256 + val; removing N must borrow exactly once
		// to land back in range.
		if !r.val.SubAssign(&n) {
			return ErrNotReduced
		}
		return nil
	}
	if r.val.Cmp(n) >= 0 {
		return r.reduce()
	}
	return nil
}

// SubAssign sets r = r-o mod N.
func (r *Residue) SubAssign(o *Residue) error {
	n := r.mod.Modulus()
	if r.val.SubAssign(&o.val) {
		if !r.val.AddAssign(&n) {
			return ErrNotReduced
		}
	}
	return nil
}

// reduce multiplies by one, which a cooperative coprocessor answers with
// the representative in [0, N).
func (r *Residue) reduce() error {
	one := One()
	return r.MulAssign(&Residue{val: one})
}

// IntoBigInt returns the value, failing unless it is strictly below N.
func (r *Residue) IntoBigInt() (BigInt, error) {
	n := r.mod.Modulus()
	if r.val.Cmp(n) >= 0 {
		return BigInt{}, ErrNotReduced
	}
	return r.val, nil
}
