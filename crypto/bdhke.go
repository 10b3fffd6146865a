// Package crypto implements the client side of the
// Blind Diffie-Hellman Key Exchange scheme used by Cashu mints.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const DomainSeparator = "Secp256k1_HashToCurve_Cashu_"

// HashToCurve maps a message to a point on the secp256k1 curve
// using the domain-separated scheme from NUT-00.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgToHash := sha256.Sum256(append([]byte(DomainSeparator), message...))

	counter := make([]byte, 4)
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter, i)
		hash := sha256.Sum256(append(msgToHash[:], counter...))

		pkbytes := append([]byte{0x02}, hash[:]...)
		point, err := secp256k1.ParsePubKey(pkbytes)
		if err == nil {
			return point, nil
		}
	}

	return nil, errors.New("no valid point found")
}

// BlindMessage returns B_ = Y + rG
func BlindMessage(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	// blindedMessage = Y + rG
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// SignBlindedMessage returns C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// UnblindSignature returns C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// Verify checks k * HashToCurve(secret) == C
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

func HashE(pubkeys []*secp256k1.PublicKey) [32]byte {
	var bytesToHash []byte
	for _, pubkey := range pubkeys {
		bytesToHash = append(bytesToHash, []byte(hex.EncodeToString(pubkey.SerializeUncompressed()))...)
	}
	return sha256.Sum256(bytesToHash)
}

// GenerateDLEQ produces the (e, s) pair proving that the same
// private key k was used for A = kG and C_ = kB_.
func GenerateDLEQ(k *secp256k1.PrivateKey, B_ *secp256k1.PublicKey, C_ *secp256k1.PublicKey) (
	*secp256k1.PrivateKey, *secp256k1.PrivateKey, error) {

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	R1 := r.PubKey()

	// R2 = rB_
	var bpoint, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&r.Key, &bpoint, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	ehash := HashE([]*secp256k1.PublicKey{R1, R2, k.PubKey(), C_})
	e := secp256k1.PrivKeyFromBytes(ehash[:])

	// s = r + e*k
	var s secp256k1.ModNScalar
	s.Mul2(&e.Key, &k.Key).Add(&r.Key)

	return e, secp256k1.NewPrivateKey(&s), nil
}

// VerifyDLEQ checks the proof that the discrete log of A with respect
// to G equals that of C_ with respect to B_:
//
//	R1 = sG - eA
//	R2 = sB_ - eC_
//	e == hash(R1, R2, A, C_)
func VerifyDLEQ(e, s *secp256k1.PrivateKey,
	A, B_, C_ *secp256k1.PublicKey) bool {

	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = sG - eA
	var sGPoint, eNegAPoint, R1Point, APoint secp256k1.JacobianPoint
	s.PubKey().AsJacobian(&sGPoint)
	A.AsJacobian(&APoint)
	secp256k1.ScalarMultNonConst(&eNeg, &APoint, &eNegAPoint)
	secp256k1.AddNonConst(&sGPoint, &eNegAPoint, &R1Point)
	R1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1Point.X, &R1Point.Y)

	// R2 = sB_ - eC_
	var sBPoint, eNegCPoint, R2Point, BPoint, CPoint secp256k1.JacobianPoint
	B_.AsJacobian(&BPoint)
	C_.AsJacobian(&CPoint)
	secp256k1.ScalarMultNonConst(&s.Key, &BPoint, &sBPoint)
	secp256k1.ScalarMultNonConst(&eNeg, &CPoint, &eNegCPoint)
	secp256k1.AddNonConst(&sBPoint, &eNegCPoint, &R2Point)
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	hash := HashE([]*secp256k1.PublicKey{R1, R2, A, C_})
	return e.Key.Equals(&secp256k1.PrivKeyFromBytes(hash[:]).Key)
}
