package monitoring

type Config struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool `fig:"metricEnabled"`
	ProfilingEnabled bool `fig:"profilingEnabled"`
}

func (c *Config) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }
