package linear

// Option is a function that configures FitLeastSquares.
type Option func(*config)

type config struct {
	fitIntercept bool
	ridge        float64
	rows         []int
}

// WithFitIntercept sets whether to calculate the intercept.
func WithFitIntercept(fit bool) Option {
	return func(c *config) {
		c.fitIntercept = fit
	}
}

// WithRidge adds lambda·I to the normal equations. The intercept is never
// penalized.
func WithRidge(lambda float64) Option {
	return func(c *config) {
		c.ridge = lambda
	}
}

// WithRows restricts the fit to the given sample indices.
func WithRows(rows []int) Option {
	return func(c *config) {
		c.rows = rows
	}
}
