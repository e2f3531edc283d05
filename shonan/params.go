package shonan

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Parameters configure an Averaging instance. DefaultParameters is the
// intended starting point; zero numeric fields and empty strings are
// replaced by their defaults during New, so partially filled structs and
// partial YAML files behave as overrides.
type Parameters struct {
	// Prior anchors the first pose key toward the identity with a weighted
	// Frobenius prior, fixing the global gauge freedom.
	Prior bool `yaml:"prior" json:"prior"`

	// Karcher regularizes the common-mode tangent drift of each solver
	// round, the soft gauge fix of the Karcher mean.
	Karcher bool `yaml:"karcher" json:"karcher"`

	// NoiseSigma, when positive, replaces every measurement weight by the
	// isotropic information 1/sigma^2. Zero keeps the weights as given.
	NoiseSigma float64 `yaml:"noise_sigma" json:"noise_sigma"`

	// OptimalityThreshold is the certification bound: a solution is
	// accepted as optimal when the minimum eigenvalue of the certificate
	// matrix is at or above it. Zero selects the default -1e-4.
	OptimalityThreshold float64 `yaml:"optimality_threshold" json:"optimality_threshold"`

	// PriorWeight and KarcherWeight scale the two regularizers.
	PriorWeight   float64 `yaml:"prior_weight" json:"prior_weight"`
	KarcherWeight float64 `yaml:"karcher_weight" json:"karcher_weight"`

	// Seed drives every random draw: random initializations, restarts and
	// eigensolver fallbacks derive independent deterministic streams
	// from it.
	Seed uint64 `yaml:"seed" json:"seed"`

	// Method names the nonlinear solver: lbfgs, cg, bfgs, gradientdescent
	// or neldermead.
	Method string `yaml:"method" json:"method"`

	// Verbosity names the log level: SILENT, or a zerolog level such as
	// debug, info, warn, error. SUMMARY is accepted as an alias of info.
	Verbosity string `yaml:"verbosity" json:"verbosity"`

	// MaxIterations caps the outer re-centering rounds per optimization,
	// InnerIterations the major iterations the solver runs per round.
	MaxIterations   int `yaml:"max_iterations" json:"max_iterations"`
	InnerIterations int `yaml:"inner_iterations" json:"inner_iterations"`

	// GradientTolerance declares an optimization converged when the
	// Riemannian gradient norm falls below it. FunctionTolerance is the
	// relative cost decrease between rounds considered progress.
	GradientTolerance float64 `yaml:"gradient_tolerance" json:"gradient_tolerance"`
	FunctionTolerance float64 `yaml:"function_tolerance" json:"function_tolerance"`

	// DescentGradTolerance is the minimum gradient norm a saddle-escape
	// step must reach before it is accepted; DescentPrecondTolerance below
	// it flags a near-critical escape in the logs.
	DescentGradTolerance    float64 `yaml:"descent_grad_tolerance" json:"descent_grad_tolerance"`
	DescentPrecondTolerance float64 `yaml:"descent_precond_tolerance" json:"descent_precond_tolerance"`

	// EigMaxIterations and EigTolerance are passed to the certificate
	// eigensolver.
	EigMaxIterations int     `yaml:"eig_max_iterations" json:"eig_max_iterations"`
	EigTolerance     float64 `yaml:"eig_tolerance" json:"eig_tolerance"`

	// RandomRestarts adds that many independent random starts to every
	// staircase solve, run in parallel, keeping the lowest cost result.
	// The merge is deterministic for a fixed Seed.
	RandomRestarts int `yaml:"random_restarts" json:"random_restarts"`
}

// DefaultParameters returns the standard configuration: both gauge
// regularizers on, measurement weights as given, certification tolerance
// -1e-4 and the LBFGS solver.
func DefaultParameters() Parameters {
	return Parameters{
		Prior:                   true,
		Karcher:                 true,
		NoiseSigma:              0,
		OptimalityThreshold:     -1e-4,
		PriorWeight:             1,
		KarcherWeight:           1,
		Seed:                    42,
		Method:                  "lbfgs",
		Verbosity:               "SILENT",
		MaxIterations:           100,
		InnerIterations:         50,
		GradientTolerance:       1e-8,
		FunctionTolerance:       1e-12,
		DescentGradTolerance:    1e-2,
		DescentPrecondTolerance: 1e-4,
		EigMaxIterations:        1000,
		EigTolerance:            1e-9,
		RandomRestarts:          1,
	}
}

// LoadParameters reads a YAML file over the defaults.
func LoadParameters(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("reading parameters: %w", err)
	}
	p := DefaultParameters()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Parameters{}, fmt.Errorf("parsing parameters YAML: %w", err)
	}
	if err := p.validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// normalize replaces unset fields by their defaults.
func (p *Parameters) normalize() {
	def := DefaultParameters()
	if p.OptimalityThreshold == 0 {
		p.OptimalityThreshold = def.OptimalityThreshold
	}
	if p.PriorWeight == 0 {
		p.PriorWeight = def.PriorWeight
	}
	if p.KarcherWeight == 0 {
		p.KarcherWeight = def.KarcherWeight
	}
	if p.Method == "" {
		p.Method = def.Method
	}
	if p.Verbosity == "" {
		p.Verbosity = def.Verbosity
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = def.MaxIterations
	}
	if p.InnerIterations == 0 {
		p.InnerIterations = def.InnerIterations
	}
	if p.GradientTolerance == 0 {
		p.GradientTolerance = def.GradientTolerance
	}
	if p.FunctionTolerance == 0 {
		p.FunctionTolerance = def.FunctionTolerance
	}
	if p.DescentGradTolerance == 0 {
		p.DescentGradTolerance = def.DescentGradTolerance
	}
	if p.DescentPrecondTolerance == 0 {
		p.DescentPrecondTolerance = def.DescentPrecondTolerance
	}
	if p.EigMaxIterations == 0 {
		p.EigMaxIterations = def.EigMaxIterations
	}
	if p.EigTolerance == 0 {
		p.EigTolerance = def.EigTolerance
	}
	if p.RandomRestarts == 0 {
		p.RandomRestarts = def.RandomRestarts
	}
}

// validate normalizes the receiver and rejects inconsistent settings.
func (p *Parameters) validate() error {
	p.normalize()

	if p.NoiseSigma < 0 || math.IsNaN(p.NoiseSigma) {
		return fmt.Errorf("shonan: noise sigma %v must be non-negative", p.NoiseSigma)
	}
	if math.IsNaN(p.OptimalityThreshold) {
		return fmt.Errorf("shonan: optimality threshold is NaN")
	}
	if p.PriorWeight < 0 || p.KarcherWeight < 0 {
		return fmt.Errorf("shonan: regularizer weights must be non-negative")
	}
	if _, err := methodFor(p.Method); err != nil {
		return err
	}
	if _, err := levelFor(p.Verbosity); err != nil {
		return err
	}
	for name, v := range map[string]int{
		"max_iterations":     p.MaxIterations,
		"inner_iterations":   p.InnerIterations,
		"eig_max_iterations": p.EigMaxIterations,
		"random_restarts":    p.RandomRestarts,
	} {
		if v < 1 {
			return fmt.Errorf("shonan: %s must be at least 1, got %d", name, v)
		}
	}
	for name, v := range map[string]float64{
		"gradient_tolerance":        p.GradientTolerance,
		"function_tolerance":        p.FunctionTolerance,
		"descent_grad_tolerance":    p.DescentGradTolerance,
		"descent_precond_tolerance": p.DescentPrecondTolerance,
		"eig_tolerance":             p.EigTolerance,
	} {
		if v <= 0 || math.IsNaN(v) {
			return fmt.Errorf("shonan: %s must be positive, got %v", name, v)
		}
	}
	return nil
}

// levelFor maps a verbosity name to a zerolog level. SILENT disables
// logging entirely.
func levelFor(verbosity string) (zerolog.Level, error) {
	switch strings.ToUpper(verbosity) {
	case "SILENT":
		return zerolog.Disabled, nil
	case "SUMMARY":
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(verbosity))
	if err != nil {
		return zerolog.Disabled, fmt.Errorf("shonan: unknown verbosity %q", verbosity)
	}
	return lvl, nil
}

// logger builds the instance logger for the configured verbosity.
func (p Parameters) logger() zerolog.Logger {
	lvl, err := levelFor(p.Verbosity)
	if err != nil || lvl == zerolog.Disabled {
		return zerolog.Nop()
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("component", "shonan").Logger()
}
