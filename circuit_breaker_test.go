package tenantclient_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	tenantclient "github.com/JohnPlummer/jp-go-tenantclient"
)

type stateRecorder struct {
	mu          sync.Mutex
	transitions [][2]tenantclient.CircuitState
}

func (r *stateRecorder) record(from, to tenantclient.CircuitState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]tenantclient.CircuitState{from, to})
}

func (r *stateRecorder) get() [][2]tenantclient.CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]tenantclient.CircuitState(nil), r.transitions...)
}

var _ = Describe("CircuitBreaker", func() {
	var (
		breaker  *tenantclient.CircuitBreaker
		recorder *stateRecorder
		config   tenantclient.CircuitBreakerConfig
	)

	fail := func(n int) {
		for i := 0; i < n; i++ {
			permit, err := breaker.Evaluate()
			Expect(err).To(BeNil())
			permit.RecordOutcome(false)
		}
	}

	BeforeEach(func() {
		recorder = &stateRecorder{}
		config = tenantclient.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     50 * time.Millisecond,
		}
		breaker = tenantclient.NewCircuitBreaker("tenant-api", config, quietLogger(), nil, recorder.record)
	})

	It("should start closed with no failures", func() {
		Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
		Expect(breaker.FailureCount()).To(Equal(uint32(0)))
		Expect(breaker.LastFailureTime().IsZero()).To(BeTrue())
	})

	Describe("State Transitions", func() {
		Context("Closed to Open", func() {
			It("should stay closed below the threshold", func() {
				fail(2)
				Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
				Expect(breaker.FailureCount()).To(Equal(uint32(2)))
			})

			It("should open at the threshold", func() {
				fail(3)
				Expect(breaker.State()).To(Equal(tenantclient.StateOpen))
				Expect(breaker.LastFailureTime().IsZero()).To(BeFalse())
				Expect(recorder.get()).To(ContainElement([2]tenantclient.CircuitState{
					tenantclient.StateClosed, tenantclient.StateOpen,
				}))
			})

			It("should reset the consecutive count on success", func() {
				fail(2)
				permit, err := breaker.Evaluate()
				Expect(err).To(BeNil())
				permit.RecordOutcome(true)
				fail(2)

				Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
				Expect(breaker.FailureCount()).To(Equal(uint32(2)))
			})
		})

		Context("Open", func() {
			It("should reject with CIRCUIT_BREAKER_OPEN", func() {
				fail(3)

				permit, err := breaker.Evaluate()
				Expect(permit).To(BeNil())
				Expect(err).NotTo(BeNil())
				Expect(err.Kind).To(Equal(tenantclient.KindNetwork))
				Expect(err.Code).To(Equal(tenantclient.CodeCircuitOpen))
				Expect(err.Retryable).To(BeTrue())
			})
		})

		Context("Half-Open", func() {
			It("should move to half-open after the reset timeout", func() {
				fail(3)
				time.Sleep(80 * time.Millisecond)
				Expect(breaker.State()).To(Equal(tenantclient.StateHalfOpen))
			})

			It("should admit a single probe", func() {
				fail(3)
				time.Sleep(80 * time.Millisecond)

				probe, err := breaker.Evaluate()
				Expect(err).To(BeNil())

				_, rejected := breaker.Evaluate()
				Expect(rejected).NotTo(BeNil())
				Expect(rejected.Code).To(Equal(tenantclient.CodeCircuitOpen))

				probe.RecordOutcome(true)
			})

			It("should close when the probe succeeds", func() {
				fail(3)
				time.Sleep(80 * time.Millisecond)

				probe, err := breaker.Evaluate()
				Expect(err).To(BeNil())
				probe.RecordOutcome(true)

				Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
				Expect(breaker.FailureCount()).To(Equal(uint32(0)))
			})

			It("should reopen when the probe fails", func() {
				fail(3)
				time.Sleep(80 * time.Millisecond)

				probe, err := breaker.Evaluate()
				Expect(err).To(BeNil())
				probe.RecordOutcome(false)

				Expect(breaker.State()).To(Equal(tenantclient.StateOpen))
				Expect(recorder.get()).To(ContainElement([2]tenantclient.CircuitState{
					tenantclient.StateHalfOpen, tenantclient.StateOpen,
				}))
			})
		})
	})

	Describe("RecordOutcome", func() {
		It("should only count the first report", func() {
			permit, err := breaker.Evaluate()
			Expect(err).To(BeNil())

			permit.RecordOutcome(false)
			permit.RecordOutcome(false)
			permit.RecordOutcome(false)

			Expect(breaker.FailureCount()).To(Equal(uint32(1)))
			Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
		})

		It("should ignore outcomes of calls admitted before the circuit opened", func() {
			late, err := breaker.Evaluate()
			Expect(err).To(BeNil())
			lateSuccess, err := breaker.Evaluate()
			Expect(err).To(BeNil())

			fail(3)
			Expect(breaker.State()).To(Equal(tenantclient.StateOpen))
			openedAt := breaker.LastFailureTime()

			time.Sleep(5 * time.Millisecond)
			late.RecordOutcome(false)
			lateSuccess.RecordOutcome(true)

			Expect(breaker.FailureCount()).To(Equal(uint32(3)))
			Expect(breaker.LastFailureTime()).To(Equal(openedAt))
			Expect(breaker.State()).To(Equal(tenantclient.StateOpen))
		})

		It("should ignore outcomes of calls admitted before a reset", func() {
			permit, err := breaker.Evaluate()
			Expect(err).To(BeNil())

			breaker.Reset()
			permit.RecordOutcome(false)

			Expect(breaker.FailureCount()).To(Equal(uint32(0)))
		})
	})

	Describe("Reset", func() {
		It("should close an open circuit", func() {
			fail(3)
			breaker.Reset()

			Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
			Expect(breaker.FailureCount()).To(Equal(uint32(0)))
			Expect(breaker.LastFailureTime().IsZero()).To(BeTrue())

			_, err := breaker.Evaluate()
			Expect(err).To(BeNil())
		})

		It("should be idempotent", func() {
			fail(3)
			breaker.Reset()
			breaker.Reset()

			Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
			Expect(recorder.get()).To(HaveLen(2))
		})

		It("should require a full threshold of new failures to reopen", func() {
			fail(3)
			breaker.Reset()
			fail(2)
			Expect(breaker.State()).To(Equal(tenantclient.StateClosed))
			fail(1)
			Expect(breaker.State()).To(Equal(tenantclient.StateOpen))
		})
	})

	Describe("Health", func() {
		It("should report healthy while closed", func() {
			fail(1)
			health := breaker.Health()
			Expect(health.Name).To(Equal("tenant-api"))
			Expect(health.Healthy).To(BeTrue())
			Expect(health.State).To(Equal("closed"))
			Expect(health.FailureCount).To(Equal(uint32(1)))
			Expect(health.FailureThreshold).To(Equal(uint32(3)))
			Expect(health.LastFailureTime).NotTo(BeNil())
		})

		It("should report unhealthy while open", func() {
			fail(3)
			health := breaker.Health()
			Expect(health.Healthy).To(BeFalse())
			Expect(health.State).To(Equal("open"))
		})
	})

	Describe("CircuitState", func() {
		DescribeTable("String",
			func(state tenantclient.CircuitState, expected string) {
				Expect(state.String()).To(Equal(expected))
			},
			Entry("closed", tenantclient.StateClosed, "closed"),
			Entry("half-open", tenantclient.StateHalfOpen, "half-open"),
			Entry("open", tenantclient.StateOpen, "open"),
			Entry("unknown", tenantclient.CircuitState(42), "unknown"),
		)
	})
})
