package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"receipt-scan-service/internal/client"
	"receipt-scan-service/internal/entity"
)

var _ = Describe("HTTPAPI", func() {
	var (
		srv  *httptest.Server
		mux  *http.ServeMux
		api  *client.HTTPAPI
		ctx  context.Context
		user string
	)

	BeforeEach(func() {
		mux = http.NewServeMux()
		srv = httptest.NewServer(mux)
		DeferCleanup(srv.Close)
		api = client.NewHTTPAPI(srv.URL+"/", "user-1", 5*time.Second)
		ctx = context.Background()
		user = ""
	})

	It("uploads the image as the file field", func() {
		mux.HandleFunc("POST /receipts/process", func(w http.ResponseWriter, r *http.Request) {
			user = r.Header.Get("X-User-ID")
			f, hdr, err := r.FormFile("file")
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			body, _ := io.ReadAll(f)
			Expect(string(body)).To(Equal("img-bytes"))
			Expect(hdr.Filename).To(Equal("r.jpg"))
			Expect(hdr.Header.Get("Content-Type")).To(Equal("image/jpeg"))

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1", "status": "waiting"})
		})

		resp, err := api.Submit(ctx, "r.jpg", "image/jpeg", []byte("img-bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.JobID).To(Equal("job-1"))
		Expect(resp.Status).To(Equal(entity.StatusWaiting))
		Expect(user).To(Equal("user-1"))
	})

	It("maps upload rejections to ErrInvalidFile", func() {
		mux.HandleFunc("POST /receipts/process", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_, _ = w.Write([]byte(`{"message":"invalid file: unsupported image type"}`))
		})

		_, err := api.Submit(ctx, "r.gif", "image/gif", []byte("GIF89a"))
		Expect(err).To(MatchError(client.ErrInvalidFile))

		var apiErr *client.APIError
		Expect(err).To(BeAssignableToTypeOf(apiErr))
		Expect(err.(*client.APIError).Message).To(Equal("invalid file: unsupported image type"))
	})

	It("does not treat server errors as invalid files", func() {
		mux.HandleFunc("POST /receipts/process", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := api.Submit(ctx, "r.jpg", "image/jpeg", []byte("img"))
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(client.ErrInvalidFile))
		Expect(err.Error()).To(ContainSubstring("boom"))
	})

	It("decodes status snapshots", func() {
		mux.HandleFunc("GET /receipts/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.PathValue("id")).To(Equal("job-1"))
			_, _ = w.Write([]byte(`{"jobId":"job-1","status":"active","progress":42}`))
		})

		snap, err := api.Status(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Status).To(Equal(entity.StatusActive))
		Expect(snap.Progress).NotTo(BeNil())
		Expect(*snap.Progress).To(Equal(42))
	})

	It("escapes the job id into a single path segment", func() {
		var path string
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.EscapedPath()
			_, _ = w.Write([]byte(`{"jobId":"a/b?c","status":"not_found"}`))
		})

		snap, err := api.Status(ctx, "a/b?c")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("/receipts/jobs/a%2Fb%3Fc"))
		Expect(snap.Status).To(Equal(entity.StatusNotFound))
	})

	It("bounds a hanging status request by the poll timeout", func() {
		mux.HandleFunc("GET /receipts/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		})
		slow := client.NewHTTPAPI(srv.URL, "user-1", 2*time.Second)
		poller := client.NewPoller(slow, client.WithTimeout(200*time.Millisecond))

		start := time.Now()
		_, err := poller.Poll(ctx, "abc")
		Expect(err).To(MatchError(client.ErrTimeout))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(poller.State()).To(Equal(client.StateError))
	})
})
