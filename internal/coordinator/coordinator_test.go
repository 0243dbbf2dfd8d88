package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/marcbachmann/pg-auto-failover/internal/clock"
	"github.com/marcbachmann/pg-auto-failover/internal/coordinator"
	"github.com/marcbachmann/pg-auto-failover/internal/events"
	"github.com/marcbachmann/pg-auto-failover/internal/store"
	"github.com/marcbachmann/pg-auto-failover/pkg/formation"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCoordinator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Coordinator Suite")
}

func plainFormation() formation.Formation {
	return formation.Formation{
		ID:                     "default",
		Kind:                   formation.Plain,
		EnableSyncLagThreshold: 16 << 20,
		PromoteLagThreshold:    16 << 20,
		DrainTimeout:           30 * time.Second,
		UnhealthyTimeout:       20 * time.Second,
		StartupGrace:           10 * time.Second,
	}
}

var _ = Describe("Service", func() {
	var (
		ctx context.Context
		ms  *store.MemStore
		sink *events.ChannelSink
		svc  *coordinator.Service
		vc   *clock.Virtual
		stateEvents <-chan events.Event
	)

	BeforeEach(func() {
		ctx = context.Background()
		ms = store.NewMemStore()
		Expect(ms.PutFormation(ctx, plainFormation())).To(Succeed())

		sink = events.NewChannelSink()
		stateEvents = sink.Subscribe(events.KindState)

		vc = clock.NewVirtual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		svc = coordinator.New(ms, sink, vc, nil)
	})

	It("registers the first node into a group as single", func() {
		id, goal, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeZero())
		Expect(goal).To(Equal(state.Single))
		Eventually(stateEvents).Should(Receive())
	})

	It("registers a second node into a non-empty group as wait_standby", func() {
		_, _, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())
		Eventually(stateEvents).Should(Receive())

		_, goal, err := svc.RegisterNode(ctx, "default", 1, "b", 5432)
		Expect(err).NotTo(HaveOccurred())
		Expect(goal).To(Equal(state.WaitStandby))
	})

	It("walks a two-node group from join through catch-up via NodeActive", func() {
		aID, _, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())
		Eventually(stateEvents).Should(Receive())

		bID, _, err := svc.RegisterNode(ctx, "default", 1, "b", 5432)
		Expect(err).NotTo(HaveOccurred())

		// a reports single -> fires R10, a becomes wait_primary.
		goal, err := svc.NodeActive(ctx, aID, state.Single, 0, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(goal).To(Equal(state.WaitPrimary))
		Eventually(stateEvents).Should(Receive())

		// a confirms wait_primary; no rule fires for it.
		goal, err = svc.NodeActive(ctx, aID, state.WaitPrimary, 0, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(goal).To(Equal(state.WaitPrimary))

		// b reports wait_standby, a is now wait_primary/wait_primary -> R2 fires.
		goal, err = svc.NodeActive(ctx, bID, state.WaitStandby, 0, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(goal).To(Equal(state.CatchingUp))
	})

	It("rejects a stale LSN but still updates other report fields", func() {
		aID, _, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.NodeActive(ctx, aID, state.Single, 1000, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.NodeActive(ctx, aID, state.Single, 500, node.SyncStateSync, true)
		Expect(err).NotTo(HaveOccurred())

		snap, err := ms.GroupSnapshot(ctx, "default", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Nodes).To(HaveLen(1))
		Expect(snap.Nodes[0].ReportedLSN).To(Equal(node.LSN(1000)))
		Expect(snap.Nodes[0].SyncState).To(Equal(node.SyncStateSync))
	})

	It("produces no assignment for a stale report in a two-node group", func() {
		aID, _, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())
		bID, _, err := svc.RegisterNode(ctx, "default", 1, "b", 5432)
		Expect(err).NotTo(HaveOccurred())

		goal, err := svc.NodeActive(ctx, aID, state.Single, 1000, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(goal).To(Equal(state.WaitPrimary))

		before, err := ms.GroupSnapshot(ctx, "default", 1)
		Expect(err).NotTo(HaveOccurred())

		// b's report is stale relative to nothing of its own yet, so use a's
		// second, lower LSN to exercise the stale branch on an already
		// goal-diverged node: no new assignment should be produced even
		// though a's goal state differs from its reported state.
		staleGoal, err := svc.NodeActive(ctx, aID, state.Single, 500, node.SyncStateSync, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(staleGoal).To(Equal(state.WaitPrimary))

		after, err := ms.GroupSnapshot(ctx, "default", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(after.Nodes).To(HaveLen(len(before.Nodes)))
		for _, n := range after.Nodes {
			if n.ID == bID {
				Expect(n.GoalState).To(Equal(state.WaitStandby))
			}
		}
	})

	It("persists every emitted event to the store", func() {
		_, _, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())
		Eventually(stateEvents).Should(Receive())

		persisted := ms.Events()
		Expect(persisted).NotTo(BeEmpty())
		Expect(persisted[0].FormationID).To(Equal("default"))
		Expect(persisted[0].NodeName).To(Equal("a"))
		Expect(persisted[0].NodePort).To(Equal(5432))
	})

	It("returns ErrNodeNotFound for an unknown node id", func() {
		_, err := svc.NodeActive(ctx, 99999, state.Single, 0, node.SyncStateAsync, true)
		Expect(err).To(MatchError(coordinator.ErrNodeNotFound))
	})

	It("removes a node so a later operation on it fails", func() {
		aID, _, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.RemoveNode(ctx, aID)).To(Succeed())

		_, err = svc.NodeActive(ctx, aID, state.Single, 0, node.SyncStateAsync, true)
		Expect(err).To(MatchError(coordinator.ErrNodeNotFound))
	})

	It("assigns apply_settings to a converged primary on SetReplicationSettings", func() {
		aID, _, err := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.NodeActive(ctx, aID, state.Single, 0, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())

		// No standby has joined, so put a directly into primary/primary.
		snap, err := ms.GroupSnapshot(ctx, "default", 1)
		Expect(err).NotTo(HaveOccurred())
		converged := snap.Nodes[0]
		converged.ReportedState, converged.GoalState = state.Primary, state.Primary
		Expect(ms.PutNode(ctx, converged)).To(Succeed())

		Expect(svc.SetReplicationSettings(ctx, aID, 50, false)).NotTo(HaveOccurred())

		snap, err = ms.GroupSnapshot(ctx, "default", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Nodes[0].CandidatePriority).To(Equal(50))
		Expect(snap.Nodes[0].ReplicationQuorum).To(BeFalse())
		Expect(snap.Nodes[0].GoalState).To(Equal(state.ApplySettings))
	})

	It("sweeps a group and completes a drain once the timeout has elapsed", func() {
		aID, _, _ := svc.RegisterNode(ctx, "default", 1, "a", 5432)
		bID, _, _ := svc.RegisterNode(ctx, "default", 1, "b", 5432)

		_, err := svc.NodeActive(ctx, aID, state.Single, 100, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.NodeActive(ctx, bID, state.WaitStandby, 0, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.NodeActive(ctx, bID, state.CatchingUp, 100, node.SyncStateAsync, true)
		Expect(err).NotTo(HaveOccurred())

		// No node has a good health probe, so the reports above cannot carry
		// the group to primary/secondary. Put it directly into the middle of
		// a failover: a has been assigned demote_timeout but still reports
		// draining, b has stopped replicating.
		snap, _ := ms.GroupSnapshot(ctx, "default", 1)
		Expect(snap.Nodes).To(HaveLen(2))
		for _, n := range snap.Nodes {
			if n.ID == aID {
				n.ReportedState, n.GoalState = state.Draining, state.DemoteTimeout
				n.StateChangeTime = vc.Now()
			} else {
				n.ReportedState, n.GoalState = state.StopReplication, state.StopReplication
			}
			Expect(ms.PutNode(ctx, n)).To(Succeed())
		}

		goals := func() map[int64]state.ReplicationState {
			snap, err := ms.GroupSnapshot(ctx, "default", 1)
			Expect(err).NotTo(HaveOccurred())
			out := map[int64]state.ReplicationState{}
			for _, n := range snap.Nodes {
				out[n.ID] = n.GoalState
			}
			return out
		}

		// Inside the drain timeout the sweep assigns nothing.
		Expect(svc.SweepGroup(ctx, "default", 1)).To(Succeed())
		Expect(goals()[bID]).To(Equal(state.StopReplication))

		// Once the drain timeout has elapsed, R7 completes the drain.
		vc.Advance(31 * time.Second)
		Expect(svc.SweepGroup(ctx, "default", 1)).To(Succeed())
		Expect(goals()[bID]).To(Equal(state.WaitPrimary))
		Expect(goals()[aID]).To(Equal(state.Demoted))
	})
})
