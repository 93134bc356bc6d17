package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoginInstallsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["email"] != "a@example.com" {
				t.Errorf("email = %q", body["email"])
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1", "privateKey": "pem"})
		case "/api/users":
			gotAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`[{"_id":"u1","name":"Ana"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	res, err := c.Login(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if res.Token != "tok-1" || res.PrivateKey != "pem" {
		t.Errorf("login = %+v", res)
	}

	users, err := c.Users(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Errorf("users = %+v", users)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want bearer token from login", gotAuth)
	}
}

func TestGroupsDecodesEmbeddedRefs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id":"g1","name":"team","creator":{"_id":"u1","name":"Ana"},` +
			`"members":[{"userId":"u2","canSendMessages":true,"canCall":false}]}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	groups, err := c.Groups(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups", len(groups))
	}
	g := groups[0]
	if g.Creator.ID != "u1" {
		t.Errorf("creator = %+v, want normalized id u1", g.Creator)
	}
	if len(g.Members) != 1 || g.Members[0].UserID.ID != "u2" || !g.Members[0].CanSendMessages {
		t.Errorf("members = %+v", g.Members)
	}
}

func TestServerErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not allowed"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.CreateGroup(context.Background(), "team")
	if err == nil || !strings.Contains(err.Error(), "not allowed") {
		t.Errorf("err = %v, want server message", err)
	}
}

func TestUploadMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		if got := r.FormValue("group"); got != "g1" {
			t.Errorf("group field = %q", got)
		}
		if got := r.FormValue("tempId"); got != "t-9" {
			t.Errorf("tempId field = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "notes.txt" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "notes.txt", "url": "/uploads/notes.txt", "size": 5, "mimeType": "text/plain",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	meta, err := c.Upload(context.Background(), "", "g1", "t-9", "notes.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Name != "notes.txt" || meta.MimeType != "text/plain" {
		t.Errorf("meta = %+v", meta)
	}
}
