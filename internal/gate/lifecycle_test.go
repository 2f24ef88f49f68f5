// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate_test

import (
	"net/netip"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authgate/internal/gate"
)

var _ = Describe("Session lifecycle", func() {
	var (
		engine *gate.Engine
		id     gate.Identity
		home   netip.Addr
		t0     time.Time
	)

	join := func(origin netip.Addr, at time.Time) gate.JoinOutcome {
		return engine.OnJoin(gate.JoinRequest{Identity: id, Name: "Steve", Origin: origin, Now: at}, nil).Outcome
	}

	BeforeEach(func() {
		spec := gate.DefaultPolicySpec()
		spec.SessionTimeoutSeconds = 10
		policy, err := gate.Compile(spec)
		Expect(err).NotTo(HaveOccurred())

		engine, err = gate.NewEngine(policy, gate.NewMemoryStore(), nil)
		Expect(err).NotTo(HaveOccurred())

		id = ulid.Make()
		home = netip.MustParseAddr("203.0.113.7")
		t0 = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	})

	Context("a new identity", func() {
		It("is denied every gated action until it logs in", func() {
			Expect(join(home, t0)).To(Equal(gate.JoinUnauthenticated))

			for _, c := range gate.Categories() {
				Expect(engine.CheckAction(c, id).Allowed).To(BeFalse(), string(c))
			}
			Expect(engine.CheckChat(id, "/login hunter2").Allowed).To(BeTrue())
			Expect(engine.CheckChat(id, "/give diamond").Allowed).To(BeFalse())

			_, ok := engine.Authenticate(id, nil)
			Expect(ok).To(BeTrue())
			Expect(engine.CheckAction(gate.CategoryBlockPunch, id).Allowed).To(BeTrue())
		})
	})

	Context("after an authenticated disconnect", func() {
		BeforeEach(func() {
			join(home, t0)
			engine.Authenticate(id, nil)
			Expect(engine.OnLeave(id, t0)).To(BeTrue())
			Expect(engine.IsAuthenticated(id)).To(BeFalse())
		})

		It("resumes from the same origin inside the window", func() {
			Expect(join(home, t0.Add(5*time.Second))).To(Equal(gate.JoinResumed))
			Expect(engine.IsAuthenticated(id)).To(BeTrue())
		})

		It("requires credentials from another origin", func() {
			Expect(join(netip.MustParseAddr("198.51.100.9"), t0.Add(5*time.Second))).To(Equal(gate.JoinUnauthenticated))
			Expect(engine.IsAuthenticated(id)).To(BeFalse())
		})

		It("requires credentials after the window expires", func() {
			Expect(join(home, t0.Add(15*time.Second))).To(Equal(gate.JoinUnauthenticated))
		})

		It("does not let a failed attempt leave the window usable", func() {
			Expect(join(netip.MustParseAddr("198.51.100.9"), t0.Add(time.Second))).To(Equal(gate.JoinUnauthenticated))
			engine.OnLeave(id, t0.Add(2*time.Second))
			Expect(join(home, t0.Add(3*time.Second))).To(Equal(gate.JoinUnauthenticated))
		})

		It("consumes the window on resume", func() {
			Expect(join(home, t0.Add(time.Second))).To(Equal(gate.JoinResumed))
			engine.Store().SetLiveAuthenticated(id, false)
			Expect(join(home, t0.Add(2*time.Second))).To(Equal(gate.JoinUnauthenticated))
		})
	})

	Context("with session resumption disabled", func() {
		It("never arms a window", func() {
			spec := gate.DefaultPolicySpec()
			spec.SessionTimeoutSeconds = gate.SessionTimeoutDisabled
			engine.SetPolicy(gate.MustCompile(spec))

			join(home, t0)
			engine.Authenticate(id, nil)
			Expect(engine.OnLeave(id, t0)).To(BeFalse())
			Expect(join(home, t0.Add(time.Second))).To(Equal(gate.JoinUnauthenticated))
		})
	})
})
