package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/bgp-orchestrator/internal/apierr"
	"github.com/example/bgp-orchestrator/internal/peering"
	"github.com/example/bgp-orchestrator/internal/rules"
)

type peeringPayload struct {
	Name            string                `json:"name"`
	LocalASN        int64                 `json:"local_asn"`
	PeerASN         int64                 `json:"peer_asn"`
	PeerIP          string                `json:"peer_ip"`
	Device          string                `json:"device"`
	Interface       string                `json:"interface"`
	HoldTime        int                   `json:"hold_time"`
	Keepalive       int                   `json:"keepalive"`
	Status          rules.Status          `json:"status"`
	AddressFamilies []rules.AddressFamily `json:"address_families"`
	RoutingPolicy   json.RawMessage       `json:"routing_policy"`
}

func (p peeringPayload) toDraft(actor string) peering.Draft {
	return peering.Draft{
		Name: p.Name, LocalASN: p.LocalASN, PeerASN: p.PeerASN, PeerIP: p.PeerIP,
		Device: p.Device, Interface: p.Interface, HoldTime: p.HoldTime, Keepalive: p.Keepalive,
		Status: p.Status, AddressFamilies: p.AddressFamilies, RoutingPolicy: p.RoutingPolicy,
		Actor: actor,
	}
}

type patchPayload struct {
	Name            *string               `json:"name"`
	LocalASN        *int64                `json:"local_asn"`
	PeerASN         *int64                `json:"peer_asn"`
	PeerIP          *string               `json:"peer_ip"`
	Device          *string               `json:"device"`
	Interface       *string               `json:"interface"`
	HoldTime        *int                  `json:"hold_time"`
	Keepalive       *int                  `json:"keepalive"`
	Status          *rules.Status         `json:"status"`
	AddressFamilies []rules.AddressFamily `json:"address_families"`
	RoutingPolicy   json.RawMessage       `json:"routing_policy"`
}

func (p patchPayload) toPatch(actor string) peering.Patch {
	return peering.Patch{
		Name: p.Name, LocalASN: p.LocalASN, PeerASN: p.PeerASN, PeerIP: p.PeerIP,
		Device: p.Device, Interface: p.Interface, HoldTime: p.HoldTime, Keepalive: p.Keepalive,
		Status: p.Status, AddressFamilies: p.AddressFamilies, RoutingPolicy: p.RoutingPolicy,
		Actor: actor,
	}
}

func actorFromRequest(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func (s *Server) handleCreatePeering(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)

	var payload peeringPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeAPIError(w, apierr.Validation(cid, "invalid request body: %v", err))
		return
	}

	created, err := s.peerings.Create(r.Context(), payload.toDraft(actorFromRequest(r)), clientAddr(r), cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListPeerings(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	q := r.URL.Query()

	f := peering.Filters{
		Device: q.Get("device"),
		Status: rules.Status(q.Get("status")),
	}
	if v := q.Get("peer_asn"); v != "" {
		asn, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeAPIError(w, apierr.Validation(cid, "invalid peer_asn %q", v))
			return
		}
		f.PeerASN = asn
	}
	if v := q.Get("skip"); v != "" {
		skip, err := strconv.Atoi(v)
		if err != nil {
			writeAPIError(w, apierr.Validation(cid, "invalid skip %q", v))
			return
		}
		f.Skip = skip
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeAPIError(w, apierr.Validation(cid, "invalid limit %q", v))
			return
		}
		f.Limit = limit
	}

	result, err := s.peerings.List(r.Context(), f, cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetPeering(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	id, err := pathID(r)
	if err != nil {
		writeAPIError(w, apierr.Validation(cid, "%s", err.Error()))
		return
	}

	p, err := s.peerings.Get(r.Context(), id, cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePeering(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	id, err := pathID(r)
	if err != nil {
		writeAPIError(w, apierr.Validation(cid, "%s", err.Error()))
		return
	}

	var payload patchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeAPIError(w, apierr.Validation(cid, "invalid request body: %v", err))
		return
	}

	updated, err := s.peerings.Update(r.Context(), id, payload.toPatch(actorFromRequest(r)), clientAddr(r), cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePeering(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	id, err := pathID(r)
	if err != nil {
		writeAPIError(w, apierr.Validation(cid, "%s", err.Error()))
		return
	}

	if err := s.peerings.Delete(r.Context(), id, actorFromRequest(r), clientAddr(r), cid); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)

	var payloads []peeringPayload
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		writeAPIError(w, apierr.Validation(cid, "invalid request body: %v", err))
		return
	}
	if len(payloads) == 0 || len(payloads) > peering.MaxBulkSize {
		writeAPIError(w, apierr.Validation(cid, "bulk create accepts 1-%d peerings, got %d", peering.MaxBulkSize, len(payloads)))
		return
	}

	actor := actorFromRequest(r)
	drafts := make([]peering.Draft, len(payloads))
	for i, p := range payloads {
		drafts[i] = p.toDraft(actor)
	}

	created, err := s.peerings.BulkCreate(r.Context(), drafts, clientAddr(r), cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)

	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.Validation(cid, "invalid request body: %v", err))
		return
	}
	if len(req.IDs) == 0 || len(req.IDs) > peering.MaxBulkSize {
		writeAPIError(w, apierr.Validation(cid, "bulk delete accepts 1-%d ids, got %d", peering.MaxBulkSize, len(req.IDs)))
		return
	}

	if err := s.peerings.BulkDelete(r.Context(), req.IDs, actorFromRequest(r), clientAddr(r), cid); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)

	var req struct {
		IDs   []int64      `json:"ids"`
		Patch patchPayload `json:"patch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.Validation(cid, "invalid request body: %v", err))
		return
	}
	if len(req.IDs) == 0 || len(req.IDs) > peering.MaxBulkSize {
		writeAPIError(w, apierr.Validation(cid, "bulk update accepts 1-%d ids, got %d", peering.MaxBulkSize, len(req.IDs)))
		return
	}

	updated, err := s.peerings.BulkUpdate(r.Context(), req.IDs, req.Patch.toPatch(actorFromRequest(r)), clientAddr(r), cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleExport renders the non-deleted fleet as CSV or JSON, a read-only
// projection over List — it adds no filtering of its own. It makes a single
// List call, so only the first 1000 peerings by id are exported.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	format := mux.Vars(r)["format"]

	result, err := s.peerings.List(r.Context(), peering.Filters{Limit: 0}, cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	switch format {
	case "json":
		writeJSON(w, http.StatusOK, result)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		cw := csv.NewWriter(w)
		cw.Write([]string{"id", "name", "local_asn", "peer_asn", "peer_ip", "device", "interface", "status"})
		for _, p := range result {
			cw.Write([]string{
				strconv.FormatInt(p.ID, 10), p.Name, strconv.FormatInt(p.LocalASN, 10),
				strconv.FormatInt(p.PeerASN, 10), p.PeerIP, p.Device, p.Interface, string(p.Status),
			})
		}
		cw.Flush()
	default:
		writeAPIError(w, apierr.Validation(cid, "unsupported export format %q, want csv or json", format))
	}
}

// topologyNode and topologyEdge project the fleet (the first 1000 peerings
// by id, from a single List call) into the device-adjacency graph served by
// GET /bgp-peerings/topology.
type topologyNode struct {
	Device string `json:"device"`
	ASN    int64  `json:"asn"`
}

type topologyEdge struct {
	Device  string       `json:"device"`
	PeerIP  string       `json:"peer_ip"`
	PeerASN int64        `json:"peer_asn"`
	Status  rules.Status `json:"status"`
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)

	result, err := s.peerings.List(r.Context(), peering.Filters{Limit: 0}, cid)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	seenDevices := map[string]int64{}
	edges := make([]topologyEdge, 0, len(result))
	for _, p := range result {
		if _, ok := seenDevices[p.Device]; !ok {
			seenDevices[p.Device] = p.LocalASN
		}
		edges = append(edges, topologyEdge{Device: p.Device, PeerIP: p.PeerIP, PeerASN: p.PeerASN, Status: p.Status})
	}

	nodes := make([]topologyNode, 0, len(seenDevices))
	for device, asn := range seenDevices {
		nodes = append(nodes, topologyNode{Device: device, ASN: asn})
	}

	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}
