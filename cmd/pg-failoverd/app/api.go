package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marcbachmann/pg-auto-failover/internal/coordinator"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

type registerNodeRequest struct {
	FormationID string `json:"formationId"`
	GroupID     int    `json:"groupId"`
	Name        string `json:"name"`
	Port        int    `json:"port"`
}

type registerNodeResponse struct {
	NodeID int64                  `json:"nodeId"`
	Goal   state.ReplicationState `json:"goalState"`
}

func (a *api) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, goal, err := a.svc.RegisterNode(r.Context(), req.FormationID, req.GroupID, req.Name, req.Port)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, registerNodeResponse{NodeID: id, Goal: goal})
}

type nodeActiveRequest struct {
	NodeID        int64                  `json:"nodeId"`
	ReportedState state.ReplicationState `json:"reportedState"`
	ReportedLSN   node.LSN               `json:"reportedLsn"`
	SyncState     node.SyncState         `json:"syncState"`
	PgIsRunning   bool                   `json:"pgIsRunning"`
}

type nodeActiveResponse struct {
	Goal state.ReplicationState `json:"goalState"`
}

func (a *api) handleNodeActive(w http.ResponseWriter, r *http.Request) {
	var req nodeActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	goal, err := a.svc.NodeActive(r.Context(), req.NodeID, req.ReportedState, req.ReportedLSN, req.SyncState, req.PgIsRunning)
	if err != nil {
		a.writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeActiveResponse{Goal: goal})
}

type removeNodeRequest struct {
	NodeID int64 `json:"nodeId"`
}

func (a *api) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	var req removeNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.svc.RemoveNode(r.Context(), req.NodeID); err != nil {
		a.writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setReplicationSettingsRequest struct {
	NodeID            int64 `json:"nodeId"`
	CandidatePriority int   `json:"candidatePriority"`
	ReplicationQuorum bool  `json:"replicationQuorum"`
}

func (a *api) handleSetReplicationSettings(w http.ResponseWriter, r *http.Request) {
	var req setReplicationSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.svc.SetReplicationSettings(r.Context(), req.NodeID, req.CandidatePriority, req.ReplicationQuorum); err != nil {
		a.writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) writeOperationError(w http.ResponseWriter, err error) {
	if errors.Is(err, coordinator.ErrNodeNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
