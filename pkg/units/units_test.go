package units

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

func TestHTTPManager(t *testing.T) {
	unit, _ := principal.FromBytes([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x30, 0x00, 0x01, 0x01, 0x01})
	owner, _ := principal.FromBytes([]byte{0x0a})
	next, _ := principal.FromBytes([]byte{0x0b})

	var installed struct {
		Image []byte      `json:"image"`
		Args  InstallArgs `json:"args"`
	}

	r := mux.NewRouter()
	r.HandleFunc("/units", func(w http.ResponseWriter, req *http.Request) {
		var args CreateArgs
		json.NewDecoder(req.Body).Decode(&args)
		if args.Credits != 5_000_000_000_000 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"wrong credits"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]principal.Principal{"unit": unit})
	}).Methods("POST")
	r.HandleFunc("/units/{id}/install", func(w http.ResponseWriter, req *http.Request) {
		json.NewDecoder(req.Body).Decode(&installed)
		id, err := principal.FromText(mux.Vars(req)["id"])
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]principal.Principal{"unit": id})
	}).Methods("POST")
	r.HandleFunc("/units/{id}/owner", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]principal.Principal
		json.NewDecoder(req.Body).Decode(&body)
		if body["owner"].IsAnonymous() {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"code":"forbidden","message":"anonymous owner"}`))
			return
		}
		json.NewEncoder(w).Encode(body)
	}).Methods("POST")

	server := httptest.NewServer(r)
	defer server.Close()

	m := NewHTTPManager(server.URL, time.Second)
	ctx := context.Background()

	created, err := m.CreateUnit(ctx, CreateArgs{Credits: 5_000_000_000_000, Controllers: []principal.Principal{owner}})
	require.NoError(t, err)
	assert.Equal(t, unit, created)

	_, err = m.CreateUnit(ctx, CreateArgs{Credits: 1})
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))

	got, err := m.InstallCode(ctx, unit, []byte{0x00, 0x61, 0x73, 0x6d}, InstallArgs{
		Owner:    owner,
		Owners:   []principal.Principal{owner, next},
		Relay:    "http://relay.local",
		GroupTag: "7",
	})
	require.NoError(t, err)
	assert.Equal(t, unit, got)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, installed.Image)
	assert.Equal(t, []principal.Principal{owner, next}, installed.Args.Owners)
	assert.Equal(t, "7", installed.Args.GroupTag)

	confirmed, err := m.SetOwner(ctx, unit, next)
	require.NoError(t, err)
	assert.Equal(t, next, confirmed)

	_, err = m.SetOwner(ctx, unit, principal.Anonymous)
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))
	assert.Equal(t, "forbidden", apierror.From(err).Tag)

	server.Close()
	_, err = m.SetOwner(ctx, unit, next)
	assert.Equal(t, apierror.KindInternal, apierror.KindOf(err))
}
