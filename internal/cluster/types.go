package cluster

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/exp/slices"
)

// Wire constants shared by every node.
const (
	// ReplicatePath is the replica endpoint accepting pushed objects.
	ReplicatePath = "/replicate"
	// ListPath is the origin endpoint listing stored objects.
	ListPath = "/videos"
	// HealthPath answers 200 while a node is serving.
	HealthPath = "/health"

	// FieldName and FieldVideo are the multipart form fields of a
	// replicate push: the object name as text and the object bytes as a file.
	FieldName  = "video_name"
	FieldVideo = "video"

	ContentTypeVideo = "video/mp4"
	ContentTypeJSON  = "application/json"

	// CacheControlPublic is sent by the origin for objects and listings.
	CacheControlPublic = "max-age=3600, public"
)

// NodeInfo identifies a peer node by a stable ID (used in logs and metrics)
// and its base URL.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// URL joins the node's base address with path.
func (n NodeInfo) URL(path string) string {
	return strings.TrimRight(n.Addr, "/") + path
}

// ReplicaSet is the ordered list of replica nodes fixed at startup.
type ReplicaSet []NodeInfo

// Len returns the number of replicas.
func (rs ReplicaSet) Len() int { return len(rs) }

// Clone returns an independent copy so callers can't mutate shared topology.
func (rs ReplicaSet) Clone() ReplicaSet { return slices.Clone(rs) }

// IndexOf returns the position of the replica with the given ID, or -1.
func (rs ReplicaSet) IndexOf(id string) int {
	return slices.IndexFunc(rs, func(n NodeInfo) bool { return n.ID == id })
}

// ErrorResponse is the JSON body of a terminal client-facing error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
