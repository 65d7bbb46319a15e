package geo

import (
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// Bessel 1841 ellipsoid used by S-JTSK.
const (
	besselA    = 6377397.155
	besselInvF = 299.1528128
)

// WGS84 ellipsoid.
const (
	wgs84A    = 6378137.0
	wgs84InvF = 298.257223563
)

// sjtskToWGS84 is the 7-parameter position-vector Helmert transformation
// from S-JTSK to WGS84: translations in metres, rotations in arc seconds,
// scale in ppm.
var sjtskToWGS84 = helmert{
	tx: 570.8, ty: 85.7, tz: 462.8,
	rx: 4.998, ry: 1.587, rz: 5.261,
	s: 3.56,
}

// krovak implements the Krovak oblique conformal conic projection in its
// East-North orientation (EPSG:5514). Easting is the negated classic
// westing and northing the negated southing, so the Czech Republic lies
// in the third quadrant.
type krovak struct {
	e, alphaC, lambdaO, phiP float64
	// derived constants
	b, tO, n, rO float64
	tanPhiP      float64
}

func dms(d, m, s float64) float64 {
	return (d + m/60 + s/3600) * math.Pi / 180
}

func newKrovak() *krovak {
	f := 1 / besselInvF
	e2 := 2*f - f*f
	e := math.Sqrt(e2)

	phiC := dms(49, 30, 0)
	k := &krovak{
		e:       e,
		alphaC:  dms(30, 17, 17.30311),
		lambdaO: dms(24, 50, 0), // 42°30' east of Ferro
		phiP:    dms(78, 30, 0),
	}
	const kP = 0.9999

	sinC := math.Sin(phiC)
	a := besselA * math.Sqrt(1-e2) / (1 - e2*sinC*sinC)
	k.b = math.Sqrt(1 + e2*math.Pow(math.Cos(phiC), 4)/(1-e2))
	gammaO := math.Asin(sinC / k.b)
	k.tO = math.Tan(math.Pi/4+gammaO/2) *
		math.Pow((1+e*sinC)/(1-e*sinC), e*k.b/2) /
		math.Pow(math.Tan(math.Pi/4+phiC/2), k.b)
	k.n = math.Sin(k.phiP)
	k.rO = kP * a / math.Tan(k.phiP)
	k.tanPhiP = math.Tan(math.Pi/4 + k.phiP/2)
	return k
}

// forward maps Bessel geodetic coordinates in radians to the classic
// south-west oriented (southing, westing) pair in metres.
func (k *krovak) forward(phi, lambda float64) (southing, westing float64) {
	es := k.e * math.Sin(phi)
	u := 2 * (math.Atan(k.tO*math.Pow(math.Tan(phi/2+math.Pi/4), k.b)/
		math.Pow((1+es)/(1-es), k.e*k.b/2)) - math.Pi/4)
	v := k.b * (k.lambdaO - lambda)
	t := math.Asin(math.Cos(k.alphaC)*math.Sin(u) + math.Sin(k.alphaC)*math.Cos(u)*math.Cos(v))
	d := math.Asin(math.Cos(u) * math.Sin(v) / math.Cos(t))
	theta := k.n * d
	r := k.rO * math.Pow(k.tanPhiP, k.n) / math.Pow(math.Tan(t/2+math.Pi/4), k.n)
	return r * math.Cos(theta), r * math.Sin(theta)
}

// inverse maps (southing, westing) back to Bessel geodetic radians.
func (k *krovak) inverse(southing, westing float64) (phi, lambda float64) {
	r := math.Hypot(southing, westing)
	theta := math.Atan2(westing, southing)
	d := theta / math.Sin(k.phiP)
	t := 2 * (math.Atan(math.Pow(k.rO/r, 1/k.n)*k.tanPhiP) - math.Pi/4)
	u := math.Asin(math.Cos(k.alphaC)*math.Sin(t) - math.Sin(k.alphaC)*math.Cos(t)*math.Cos(d))
	v := math.Asin(math.Cos(t) * math.Sin(d) / math.Cos(u))

	base := math.Pow(k.tO, -1/k.b) * math.Pow(math.Tan(u/2+math.Pi/4), 1/k.b)
	phi = u
	for i := 0; i < 15; i++ {
		es := k.e * math.Sin(phi)
		next := 2 * (math.Atan(base*math.Pow((1+es)/(1-es), k.e/2)) - math.Pi/4)
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	return phi, k.lambdaO - v/k.b
}

// krovakEastNorth is the EPSG:5514 projection with the S-JTSK datum shift.
type krovakEastNorth struct {
	k *krovak
}

func (krovakEastNorth) Code() string { return CRSKrovak }

func (p krovakEastNorth) ToWGS84(pt orb.Point) orb.Point {
	phi, lambda := p.k.inverse(-pt[1], -pt[0])
	x, y, z := geodeticToECEF(phi, lambda, besselA, besselInvF)
	x, y, z = sjtskToWGS84.apply(x, y, z)
	lat, lon := ecefToGeodetic(x, y, z, wgs84A, wgs84InvF)
	return orb.Point{rad2deg(lon), rad2deg(lat)}
}

func (p krovakEastNorth) FromWGS84(ll orb.Point) orb.Point {
	x, y, z := geodeticToECEF(deg2rad(ll[1]), deg2rad(ll[0]), wgs84A, wgs84InvF)
	x, y, z = sjtskToWGS84.invert(x, y, z)
	phi, lambda := ecefToGeodetic(x, y, z, besselA, besselInvF)
	southing, westing := p.k.forward(phi, lambda)
	return orb.Point{-westing, -southing}
}

type helmert struct {
	tx, ty, tz float64 // metres
	rx, ry, rz float64 // arc seconds
	s          float64 // ppm
}

const arcSec = math.Pi / 180 / 3600

func (h helmert) apply(x, y, z float64) (float64, float64, float64) {
	rx, ry, rz := h.rx*arcSec, h.ry*arcSec, h.rz*arcSec
	m := 1 + h.s*1e-6
	return h.tx + m*(x-rz*y+ry*z),
		h.ty + m*(rz*x+y-rx*z),
		h.tz + m*(-ry*x+rx*y+z)
}

// invert applies the exact reverse transformation by solving
// m·R·X = X' - T for X.
func (h helmert) invert(x, y, z float64) (float64, float64, float64) {
	rx, ry, rz := h.rx*arcSec, h.ry*arcSec, h.rz*arcSec
	m := 1 + h.s*1e-6
	r := mat.NewDense(3, 3, []float64{
		m, -m * rz, m * ry,
		m * rz, m, -m * rx,
		-m * ry, m * rx, m,
	})
	rhs := mat.NewVecDense(3, []float64{x - h.tx, y - h.ty, z - h.tz})
	var out mat.VecDense
	if err := out.SolveVec(r, rhs); err != nil {
		// The matrix is a near-identity rotation and never singular.
		panic(err)
	}
	return out.AtVec(0), out.AtVec(1), out.AtVec(2)
}

func geodeticToECEF(phi, lambda, a, invF float64) (x, y, z float64) {
	f := 1 / invF
	e2 := 2*f - f*f
	sinPhi := math.Sin(phi)
	n := a / math.Sqrt(1-e2*sinPhi*sinPhi)
	return n * math.Cos(phi) * math.Cos(lambda),
		n * math.Cos(phi) * math.Sin(lambda),
		n * (1 - e2) * sinPhi
}

func ecefToGeodetic(x, y, z, a, invF float64) (phi, lambda float64) {
	f := 1 / invF
	e2 := 2*f - f*f
	p := math.Hypot(x, y)
	lambda = math.Atan2(y, x)
	phi = math.Atan2(z, p*(1-e2))
	for i := 0; i < 10; i++ {
		sinPhi := math.Sin(phi)
		n := a / math.Sqrt(1-e2*sinPhi*sinPhi)
		h := p/math.Cos(phi) - n
		phi = math.Atan2(z, p*(1-e2*n/(n+h)))
	}
	return phi, lambda
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }
