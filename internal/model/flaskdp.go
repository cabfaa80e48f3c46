package model

// FlaskDPVersion is the wire protocol version spoken with the FlaskDP
// service.
const FlaskDPVersion = "1"

// Mechanism identifies a differential privacy mechanism on the FlaskDP
// wire.
type Mechanism string

const (
	MechanismLaplace              Mechanism = "laplace"
	MechanismLaplaceTruncated     Mechanism = "laplace/truncated"
	MechanismLaplaceBoundedDomain Mechanism = "laplace/bounded-domain"
	MechanismLaplaceBoundedNoise  Mechanism = "laplace/bounded-noise"
	MechanismGaussian             Mechanism = "gaussian"
	MechanismGaussianAnalytic     Mechanism = "gaussian/analytic"
)

// MechanismFromString maps a scheme string to a Mechanism, defaulting to
// laplace for anything unrecognized.
func MechanismFromString(s string) Mechanism {
	switch Mechanism(s) {
	case MechanismLaplace,
		MechanismLaplaceTruncated,
		MechanismLaplaceBoundedDomain,
		MechanismLaplaceBoundedNoise,
		MechanismGaussian,
		MechanismGaussianAnalytic:
		return Mechanism(s)
	default:
		return MechanismLaplace
	}
}

// FlaskDPItem is one noise-addition unit: the numeric values of a group of
// attributes plus the mechanism parameters.
type FlaskDPItem struct {
	ID          string    `json:"id"`
	Values      []float64 `json:"values"`
	Epsilon     float64   `json:"epsilon"`
	Delta       float64   `json:"delta"`
	Sensitivity float64   `json:"sensitivity"`
	Mechanism   Mechanism `json:"mechanism"`
	Upper       float64   `json:"upper"`
	Lower       float64   `json:"lower"`
}

// FlaskDPItemResult is the noised counterpart of one item.
type FlaskDPItemResult struct {
	ID     string    `json:"id"`
	Values []float64 `json:"values"`
}

// FlaskDPRequest is the body of the /api/dp/apply endpoint.
type FlaskDPRequest struct {
	Items []FlaskDPItem `json:"items"`
}

// FlaskDPResponse carries the noised items, keyed by item id.
type FlaskDPResponse struct {
	Items []FlaskDPItemResult `json:"items"`
}
