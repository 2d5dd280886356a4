package tenantclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	tenantclient "github.com/JohnPlummer/jp-go-tenantclient"
)

func jsonHeader() http.Header {
	return http.Header{"Content-Type": []string{"application/json"}}
}

var _ = Describe("Response normalization", func() {
	normalize := func(status int, header http.Header, body string) (*tenantclient.Response, *tenantclient.Error) {
		return tenantclient.Normalize(status, header, []byte(body), 30*time.Second)
	}

	Context("with successful statuses", func() {
		It("should unwrap the data field of a success envelope", func() {
			resp, err := normalize(200, jsonHeader(), `{"success":true,"data":{"id":"t-1"},"message":"loaded"}`)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(200))
			Expect(resp.Message).To(Equal("loaded"))
			Expect(resp.Data).To(MatchJSON(`{"id":"t-1"}`))
		})

		It("should return the whole body when there is no data field", func() {
			resp, err := normalize(200, jsonHeader(), `{"id":"t-1","name":"Acme"}`)
			Expect(err).To(BeNil())
			Expect(resp.Data).To(MatchJSON(`{"id":"t-1","name":"Acme"}`))
		})

		It("should return a top-level array as data", func() {
			resp, err := normalize(200, jsonHeader(), `[{"id":"t-1"},{"id":"t-2"}]`)
			Expect(err).To(BeNil())
			Expect(resp.Data).To(MatchJSON(`[{"id":"t-1"},{"id":"t-2"}]`))
		})

		It("should accept 204 without a body", func() {
			resp, err := normalize(204, http.Header{}, "")
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(204))
			Expect(resp.Data).To(BeNil())
		})

		It("should accept an empty body regardless of content type", func() {
			resp, err := normalize(201, http.Header{"Content-Type": []string{"text/plain"}}, "  ")
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(201))
		})

		It("should accept structured JSON content types", func() {
			header := http.Header{"Content-Type": []string{"application/vnd.api+json"}}
			resp, err := normalize(200, header, `{"data":[]}`)
			Expect(err).To(BeNil())
			Expect(resp.Data).To(MatchJSON(`[]`))
		})

		It("should reject a non-JSON content type", func() {
			header := http.Header{"Content-Type": []string{"text/html"}}
			_, err := normalize(200, header, "<html>login</html>")
			Expect(err).NotTo(BeNil())
			Expect(err.Kind).To(Equal(tenantclient.KindBusiness))
			Expect(err.Code).To(Equal(tenantclient.CodeInvalidContentType))
			Expect(err.Retryable).To(BeFalse())
		})

		It("should reject a missing content type on a non-empty body", func() {
			_, err := normalize(200, http.Header{}, `{"ok":true}`)
			Expect(err.Code).To(Equal(tenantclient.CodeInvalidContentType))
		})

		It("should reject malformed JSON", func() {
			_, err := normalize(200, jsonHeader(), `{"data":`)
			Expect(err.Kind).To(Equal(tenantclient.KindBusiness))
			Expect(err.Code).To(Equal(tenantclient.CodeJSONParseError))
		})

		It("should fall back to the status when success is not a boolean", func() {
			resp, err := normalize(200, jsonHeader(), `{"success":"yes","data":{"id":1}}`)
			Expect(err).To(BeNil())
			Expect(resp.Data).To(MatchJSON(`{"id":1}`))

			resp, err = normalize(200, jsonHeader(), `{"success":null,"data":{"id":2}}`)
			Expect(err).To(BeNil())
			Expect(resp.Data).To(MatchJSON(`{"id":2}`))
		})

		DescribeTable("should pass through bare payloads whose keys reuse envelope names",
			func(body string) {
				resp, err := normalize(200, jsonHeader(), body)
				Expect(err).To(BeNil())
				Expect(resp.Data).To(MatchJSON(body))
			},
			Entry("details as a string", `{"id":1,"name":"Ann","details":"VIP customer"}`),
			Entry("numeric code", `{"id":1,"code":42}`),
			Entry("message as an object", `{"id":1,"message":{"subject":"hi"}}`),
			Entry("errors as a count", `{"id":1,"errors":3}`),
		)

		It("should turn success=false into a business error", func() {
			body := `{"success":false,"message":"plan limit reached","code":"PLAN_LIMIT","details":{"seats":10}}`
			_, err := normalize(200, jsonHeader(), body)
			Expect(err).NotTo(BeNil())
			Expect(err.Kind).To(Equal(tenantclient.KindBusiness))
			Expect(err.Code).To(Equal("PLAN_LIMIT"))
			Expect(err.Message).To(Equal("plan limit reached"))
			Expect(err.Status).To(Equal(200))
			Expect(err.Details).To(HaveKeyWithValue("seats", BeNumerically("==", 10)))
			Expect(err.Retryable).To(BeFalse())
		})
	})

	Context("with error statuses", func() {
		It("should classify the status before checking the content type", func() {
			header := http.Header{"Content-Type": []string{"text/html"}}
			_, err := normalize(503, header, "<html>maintenance</html>")
			Expect(err.Kind).To(Equal(tenantclient.KindNetwork))
			Expect(err.Retryable).To(BeTrue())
			Expect(err.Status).To(Equal(503))
		})

		It("should read the message from an error object", func() {
			_, err := normalize(404, jsonHeader(), `{"error":{"message":"tenant not found"}}`)
			Expect(err.Kind).To(Equal(tenantclient.KindBusiness))
			Expect(err.Message).To(Equal("tenant not found"))
		})

		It("should read the message from an error string", func() {
			_, err := normalize(401, jsonHeader(), `{"error":"token expired"}`)
			Expect(err.Kind).To(Equal(tenantclient.KindAuth))
			Expect(err.Message).To(Equal("token expired"))
		})

		It("should keep message and field details when code is not a string", func() {
			body := `{"message":"bad input","code":1001,"details":{"email":"required"}}`
			_, err := normalize(422, jsonHeader(), body)
			Expect(err.Kind).To(Equal(tenantclient.KindValidation))
			Expect(err.Message).To(Equal("bad input"))
			Expect(err.Code).To(BeEmpty())
			Expect(err.Details).To(HaveKeyWithValue("email", "required"))
		})

		It("should keep the status error when the error body is malformed", func() {
			_, err := normalize(400, jsonHeader(), `{not json`)
			Expect(err.Kind).To(Equal(tenantclient.KindValidation))
			Expect(err.Message).To(Equal("Bad Request"))
		})
	})
})

var _ = Describe("Decode", func() {
	type tenant struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	It("should decode the data payload", func() {
		res := tenantclient.Result[*tenantclient.Response]{
			Value: &tenantclient.Response{StatusCode: 200, Data: json.RawMessage(`{"id":"t-1","name":"Acme"}`)},
		}
		out := tenantclient.Decode[tenant](res)
		Expect(out.OK()).To(BeTrue())
		Expect(out.Value).To(Equal(tenant{ID: "t-1", Name: "Acme"}))
	})

	It("should pass failures through", func() {
		cause := &tenantclient.Error{Kind: tenantclient.KindAuth}
		out := tenantclient.Decode[tenant](tenantclient.Result[*tenantclient.Response]{Err: cause})
		Expect(out.Err).To(BeIdenticalTo(cause))
	})

	It("should report a shape mismatch as a parse error", func() {
		res := tenantclient.Result[*tenantclient.Response]{
			Value: &tenantclient.Response{Data: json.RawMessage(`[1,2,3]`)},
		}
		out := tenantclient.Decode[tenant](res)
		Expect(out.Err.Code).To(Equal(tenantclient.CodeJSONParseError))
	})

	It("should return an untyped nil error from Unwrap on success", func() {
		res := tenantclient.Result[int]{Value: 7}
		v, err := res.Unwrap()
		Expect(v).To(Equal(7))
		Expect(err).To(BeNil())
	})
})

var _ = Describe("Response size limit", func() {
	It("should reject bodies larger than MaxBodyBytes", func() {
		big := `{"data":"` + strings.Repeat("x", 256) + `"}`
		transport := newMockTransport(jsonResponse(200, big))
		client := newTestClient(transport, tenantclient.WithMaxBodyBytes(64))

		res := client.Get(context.Background(), "/tenants")
		Expect(res.OK()).To(BeFalse())
		Expect(res.Err.Kind).To(Equal(tenantclient.KindBusiness))
		Expect(res.Err.Code).To(Equal(tenantclient.CodeResponseTooLarge))
		Expect(transport.getCallCount()).To(Equal(1))
	})
})
