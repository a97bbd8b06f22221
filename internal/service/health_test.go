package service_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/internal/service"
)

var _ = Describe("Health checker", func() {
	var (
		be  *fakeBackend
		srv *httptest.Server
		hc  *service.HealthChecker
	)

	BeforeEach(func() {
		be = newFakeBackend()
		srv = httptest.NewServer(be)
		hc = service.NewHealthChecker(client.NewBackend(srv.URL, time.Second), srv.URL, 50*time.Millisecond)
	})

	AfterEach(func() {
		srv.Close()
	})

	It("starts unreachable until the first check", func() {
		Expect(hc.State()).To(Equal(service.HealthCheckStateBackendUnreachable))
		Expect(hc.Check(context.TODO())).To(Succeed())
		Expect(hc.State()).To(Equal(service.HealthCheckStateBackendReachable))
	})

	It("reports an unreachable backend", func() {
		be.setHealthy(false)
		err := hc.Check(context.TODO())
		var unavailable *service.ErrBackendUnavailable
		Expect(errors.As(err, &unavailable)).To(BeTrue())
		Expect(hc.State()).To(Equal(service.HealthCheckStateBackendUnreachable))
	})

	It("follows the backend periodically and closes OK", func() {
		closeCh := make(chan chan any)
		hc.Start(context.TODO(), closeCh)
		Expect(hc.State()).To(Equal(service.HealthCheckStateBackendReachable))

		be.setHealthy(false)
		Eventually(hc.State).WithTimeout(2 * time.Second).Should(Equal(service.HealthCheckStateBackendUnreachable))
		be.setHealthy(true)
		Eventually(hc.State).WithTimeout(2 * time.Second).Should(Equal(service.HealthCheckStateBackendReachable))

		c := make(chan any, 1)
		closeCh <- c

		ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
		defer cancel()
		select {
		case <-ctx.Done():
			Fail("the health checker did not exit")
		case _, ok := <-c:
			Expect(ok).To(BeTrue())
		}
		Eventually(c).Should(BeClosed())
	})
})
