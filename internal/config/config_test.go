package config

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

// fakeEnvironment is an EnvironmentSource backed by an in-memory map,
// mirroring the teacher's FakeEnvironment.
type fakeEnvironment struct {
	values map[string]string
}

func newFakeEnvironment(data map[string]string) fakeEnvironment {
	if data == nil {
		data = map[string]string{}
	}
	return fakeEnvironment{values: data}
}

func (f fakeEnvironment) Getenv(key string) string {
	return f.values[key]
}

var _ = Describe("configuration loading", func() {
	It("falls back to built-in defaults with no YAML and no environment", func() {
		data, err := Load(nil, newFakeEnvironment(nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(data.StoreDriver).To(Equal("memory"))
		Expect(data.DrainTimeoutSeconds).To(Equal(int64(30)))
	})

	It("applies a YAML document over the defaults", func() {
		yamlDoc := []byte("storeDriver: postgres\nstoreDsn: postgres://localhost/pgfo\n")
		data, err := Load(yamlDoc, newFakeEnvironment(nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(data.StoreDriver).To(Equal("postgres"))
		Expect(data.StoreDSN).To(Equal("postgres://localhost/pgfo"))
		Expect(data.LogLevel).To(Equal("info"))
	})

	It("lets the environment override both the YAML document and the defaults", func() {
		yamlDoc := []byte("logLevel: info\n")
		env := newFakeEnvironment(map[string]string{"PGFO_LOG_LEVEL": "debug"})
		data, err := Load(yamlDoc, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.LogLevel).To(Equal("debug"))
	})

	It("resets to the prior value when the environment holds an unparseable integer", func() {
		env := newFakeEnvironment(map[string]string{"PGFO_DRAIN_TIMEOUT_SECONDS": "soon"})
		data, err := Load(nil, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.DrainTimeoutSeconds).To(Equal(int64(30)))
	})

	It("exposes the timer fields as time.Duration", func() {
		data := Defaults()
		Expect(data.DrainTimeout().Seconds()).To(Equal(float64(30)))
		Expect(data.UnhealthyTimeout().Seconds()).To(Equal(float64(20)))
		Expect(data.StartupGrace().Seconds()).To(Equal(float64(10)))
	})
})

var _ = Describe("splitAndTrim", func() {
	It("splits and trims a comma-separated list", func() {
		Expect(splitAndTrim("one, two ,three\t")).To(Equal([]string{"one", "two", "three"}))
	})
})
