// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shamirgeneric implements shamir secret sharing with a generic group structure.
package shamirgeneric

import (
	"fmt"

	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/internal/field"
	"github.com/zaturn/zaturn-go/client/internal/secret_sharing/secrets"
)

// MaxShares is the largest number of shares a single split can produce. Share
// X coordinates are encoded as non-zero field elements.
const MaxShares = 255

// SplitSecret splits a secret into n shares where t or more shares can be combined to reconstruct
// the original secret using shamir secret sharing.
//
// A split into a single share returns the secret unchanged as that share.
func SplitSecret(metadata secrets.Metadata, secret []byte, gf field.GaloisField) (secrets.Split, error) {
	if err := validateSplitInput(metadata, secret, gf); err != nil {
		return secrets.Split{}, err
	}
	threshold := metadata.Threshold
	numShares := metadata.NumShares

	if numShares == 1 {
		value := make([]byte, len(secret))
		copy(value, secret)
		return secrets.Split{
			Shares:    []secrets.Share{{Value: value, X: 1}},
			Metadata:  metadata,
			SecretLen: len(secret),
		}, nil
	}

	xVals := make([]field.Element, numShares)
	for i := range xVals {
		var err error
		if xVals[i], err = gf.CreateElement(i + 1); err != nil {
			return secrets.Split{}, err
		}
	}

	// The `secret` can be an arbitrary length byte array, but each element in a field is of
	// a finite size, hence the `secret` is split into a set of elements in the field.
	subsecrets := gf.DecodeElements(secret)
	shares := make([]secrets.Share, numShares)
	for i := range shares {
		shares[i].X = i + 1
		shares[i].Value = make([]byte, 0, len(secret))
	}

	// For each subsecret we build a polynomial of degree `threshold - 1`.
	// Each subsecret is the constant coefficient in the polynomial and every other coefficient
	// is selected as a random field element:
	// subsecret + R_1 * x^1 + R_2 * X^2 + ... + R_(t-1) * X^(t-1)
	coefficients := make([]field.Element, threshold)
	for _, subsecret := range subsecrets {
		coefficients[0] = subsecret
		for i := 1; i < threshold; i++ {
			var err error
			if coefficients[i], err = gf.NewRandom(); err != nil {
				return secrets.Split{}, err
			}
		}
		for i, xi := range xVals {
			// shares[0] = 			[ F1(1), F2(1), ..., FN(1) ]
			// shares[1] = 			[ F1(2), F2(2), ..., FN(2) ]
			// shares[N - 1] = 	[ F1(N), F2(N), ..., FN(N) ]
			subshare, err := evaluatePolynomial(coefficients, xi, gf)
			if err != nil {
				return secrets.Split{}, err
			}
			shares[i].Value = append(shares[i].Value, subshare.Bytes()...)
		}
	}
	return secrets.Split{
		Shares:    shares,
		Metadata:  metadata,
		SecretLen: len(secret),
	}, nil
}

// evaluates a polynomial at `x` where `coefficients` take the form:
// f(x) = c[n-1] * x^(n-1) + c[n-2] * x^(n-2) + ... + c[1] * x^1 + c[0]
// using Horner's method over a finite field.
func evaluatePolynomial(coefficients []field.Element, x field.Element, gf field.GaloisField) (field.Element, error) {
	sum, err := gf.CreateElement(0)
	if err != nil {
		return nil, err
	}
	for i := len(coefficients) - 1; i > 0; i-- {
		sum = sum.Add(coefficients[i]).Multiply(x)
	}
	return sum.Add(coefficients[0]), nil
}

// Reconstruct interpolates the secret at x = 0 from every share in splitSecret.
//
// Reconstruct does not know which threshold the shares were produced with. Passing fewer
// shares than that threshold, or shares from different splits, yields incorrect bytes
// without an error. A single share is returned unchanged.
func Reconstruct(splitSecret secrets.Split, gf field.GaloisField) ([]byte, error) {
	if err := validateReconstructInput(splitSecret); err != nil {
		return nil, err
	}
	shares := splitSecret.Shares
	secretLen := splitSecret.SecretLen
	if secretLen == 0 {
		secretLen = len(shares[0].Value)
	}

	if len(shares) == 1 {
		if len(shares[0].Value) != secretLen {
			return nil, fmt.Errorf("share length %d does not match secret length %d", len(shares[0].Value), secretLen)
		}
		out := make([]byte, secretLen)
		copy(out, shares[0].Value)
		return out, nil
	}

	xVals := make([]field.Element, 0, len(shares))
	for _, s := range shares {
		xi, err := gf.CreateElement(s.X)
		if err != nil {
			return nil, err
		}
		xVals = append(xVals, xi)
	}
	// Precompute the Lagrange coefficients before performing polynomial interpolation.
	coefficients, err := lagrangeCoefficients(xVals, gf)
	if err != nil {
		return nil, err
	}
	// Calculate the number of field elements per secret share based on the share size.
	numSubSecrets := len(shares[0].Value) / gf.ElementSize()
	subsecrets := make([]field.Element, numSubSecrets)
	yVals := make([]field.Element, len(xVals))
	for i := 0; i < numSubSecrets; i++ {
		for j, s := range shares {
			yVals[j], err = gf.ReadElement(s.Value, i)
			if err != nil {
				return nil, err
			}
		}
		// interpolatePolynomial recovers the C[0] coefficient, the geometric interpretation
		// of the intersection with the Y axis.
		subsecrets[i], err = interpolatePolynomial(coefficients, yVals, gf)
		if err != nil {
			return nil, err
		}
	}
	// combine the subsecret field elements into the original secrets.
	return gf.EncodeElements(subsecrets, secretLen)
}

// performs lagrange polynomial interpolation at x = 0 from a set of points:
// ∑i={1,n} y[i] * ( ∏j={1,n,j≠i} ( (x[j]) / ( x[j] - x[i]) ) )
// lagrange coefficients (∏j={1,n,j≠i} ( (x[j]) / ( x[j] - x[i] ) )) are precalculated
// and the y coordinates are used to compute the sum.
func interpolatePolynomial(lagCoeff []field.Element, yVals []field.Element, gf field.GaloisField) (field.Element, error) {
	if len(lagCoeff) != len(yVals) {
		return nil, fmt.Errorf("invalid lagrange coefficients")
	}
	sum, err := gf.CreateElement(0)
	if err != nil {
		return nil, err
	}
	for i, y := range yVals {
		sum = sum.Add(y.Multiply(lagCoeff[i]))
	}
	return sum, nil
}

// recovers the coefficients to perform lagrange polynomial interpolation using the x coordinates.
// ∏j={1,n,j≠i} ( (x[j]) / ( x[j] - x[i] ) )
func lagrangeCoefficients(x []field.Element, gf field.GaloisField) ([]field.Element, error) {
	if len(x) < 2 {
		return nil, fmt.Errorf("must have at least 2 values")
	}
	out := make([]field.Element, 0, len(x))
	for i := 0; i < len(x); i++ {
		coeff, err := gf.CreateElement(1)
		if err != nil {
			return nil, err
		}
		for j := 0; j < len(x); j++ {
			if i == j {
				continue
			}
			if x[i].Equal(x[j]) {
				return nil, fmt.Errorf("all shares should be unique point")
			}
			diff, err := x[j].Subtract(x[i]).Inverse()
			if err != nil {
				return nil, err
			}
			coeff = coeff.Multiply(x[j]).Multiply(diff)
		}
		out = append(out, coeff)
	}
	return out, nil
}

func validateSplitInput(metadata secrets.Metadata, secret []byte, gf field.GaloisField) error {
	if len(secret) == 0 {
		return fmt.Errorf("secret must not be empty")
	}
	if metadata.NumShares < 1 || metadata.NumShares > MaxShares {
		return fmt.Errorf("numShares must be between 1 and %d, got %d", MaxShares, metadata.NumShares)
	}
	if metadata.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1")
	}
	if metadata.Threshold > metadata.NumShares {
		return fmt.Errorf("threshold should be smaller than or equal to numShares")
	}
	if metadata.Field != gf.FieldID() {
		return fmt.Errorf("field ID mismatch")
	}
	return nil
}

func validateReconstructInput(splitSecret secrets.Split) error {
	if len(splitSecret.Shares) == 0 {
		return fmt.Errorf("no shares provided")
	}
	if len(splitSecret.Shares) > MaxShares {
		return fmt.Errorf("too many shares: %d", len(splitSecret.Shares))
	}
	size := len(splitSecret.Shares[0].Value)
	for _, s := range splitSecret.Shares {
		if s.X < 1 || s.X > MaxShares {
			return fmt.Errorf("invalid X value %d", s.X)
		}
		if len(s.Value) == 0 {
			return fmt.Errorf("empty secret value")
		}
		if len(s.Value) != size {
			return fmt.Errorf("shares have different lengths: %d and %d", size, len(s.Value))
		}
	}
	return nil
}
