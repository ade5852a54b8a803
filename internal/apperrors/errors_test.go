package apperrors_test

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
)

var _ = Describe("AppError", func() {
	Context("basic error creation", func() {
		It("creates an error with correct properties", func() {
			err := apperrors.New(apperrors.ErrorTypeValidation, "test message")

			Expect(err.Type).To(Equal(apperrors.ErrorTypeValidation))
			Expect(err.Message).To(Equal("test message"))
			Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(err.Details).To(BeEmpty())
			Expect(err.Cause).To(BeNil())
		})

		It("implements the error interface", func() {
			err := apperrors.New(apperrors.ErrorTypeValidation, "test message")
			Expect(err.Error()).To(Equal("validation: test message"))
		})

		It("includes details in the error string when present", func() {
			err := apperrors.New(apperrors.ErrorTypeValidation, "test message").WithDetails("extra info")
			Expect(err.Error()).To(Equal("validation: test message (extra info)"))
		})
	})

	Context("wrapping", func() {
		It("wraps an underlying error", func() {
			original := errors.New("original error")
			wrapped := apperrors.Wrap(original, apperrors.ErrorTypeProviderError, "operation failed")

			Expect(wrapped.Type).To(Equal(apperrors.ErrorTypeProviderError))
			Expect(wrapped.Cause).To(Equal(original))
			Expect(errors.Unwrap(wrapped)).To(Equal(original))
		})

		It("formats wrapped messages", func() {
			original := errors.New("connection refused")
			wrapped := apperrors.Wrapf(original, apperrors.ErrorTypeTimeout, "failed to reach %s:%d", "localhost", 5432)
			Expect(wrapped.Message).To(Equal("failed to reach localhost:5432"))
		})
	})

	DescribeTable("HTTP status code mapping",
		func(t apperrors.ErrorType, code int) {
			err := apperrors.New(t, "x")
			Expect(err.StatusCode).To(Equal(code))
		},
		Entry("validation", apperrors.ErrorTypeValidation, http.StatusBadRequest),
		Entry("step not found", apperrors.ErrorTypeStepNotFound, http.StatusNotFound),
		Entry("invalid state transition", apperrors.ErrorTypeInvalidStateTransition, http.StatusConflict),
		Entry("timeout", apperrors.ErrorTypeTimeout, http.StatusRequestTimeout),
		Entry("concurrency limit", apperrors.ErrorTypeConcurrencyLimit, http.StatusTooManyRequests),
		Entry("provider error", apperrors.ErrorTypeProviderError, http.StatusBadGateway),
		Entry("io error", apperrors.ErrorTypeIoError, http.StatusInternalServerError),
	)

	DescribeTable("retryability classification",
		func(t apperrors.ErrorType, wantRetryable bool) {
			err := apperrors.New(t, "x")
			Expect(err.IsRetryable()).To(Equal(wantRetryable))
			Expect(apperrors.IsRetryable(err)).To(Equal(wantRetryable))
		},
		Entry("timeout is retryable", apperrors.ErrorTypeTimeout, true),
		Entry("concurrency limit is retryable", apperrors.ErrorTypeConcurrencyLimit, true),
		Entry("provider error is retryable", apperrors.ErrorTypeProviderError, true),
		Entry("validation is not retryable", apperrors.ErrorTypeValidation, false),
		Entry("cyclic dependency is not retryable", apperrors.ErrorTypeCyclicDependency, false),
		Entry("step not found is not retryable", apperrors.ErrorTypeStepNotFound, false),
		Entry("invalid state transition is not retryable", apperrors.ErrorTypeInvalidStateTransition, false),
	)

	It("treats plain errors as non-retryable and internal-typed", func() {
		regular := errors.New("regular error")
		Expect(apperrors.IsRetryable(regular)).To(BeFalse())
		Expect(apperrors.IsType(regular, apperrors.ErrorTypeValidation)).To(BeFalse())
		Expect(apperrors.GetType(regular)).To(Equal(apperrors.ErrorTypeInternal))
		Expect(apperrors.GetStatusCode(regular)).To(Equal(http.StatusInternalServerError))
	})

	Describe("safe error messages", func() {
		It("passes validation messages through", func() {
			err := apperrors.NewValidationError("specific validation message")
			Expect(apperrors.SafeErrorMessage(err)).To(Equal("specific validation message"))
		})

		It("generalizes provider/internal messages", func() {
			err := apperrors.New(apperrors.ErrorTypeIoError, "disk is on fire")
			Expect(apperrors.SafeErrorMessage(err)).To(Equal("An internal error occurred"))
		})

		It("returns a generic message for plain errors", func() {
			Expect(apperrors.SafeErrorMessage(errors.New("panic"))).To(Equal("An unexpected error occurred"))
		})
	})

	Describe("logging fields", func() {
		It("includes cause and details when present", func() {
			original := errors.New("connection failed")
			err := apperrors.Wrapf(original, apperrors.ErrorTypeProviderError, "call failed").WithDetails("provider: anthropic")

			fields := apperrors.LogFields(err)
			Expect(fields).To(HaveKeyWithValue("error_type", "provider_error"))
			Expect(fields).To(HaveKeyWithValue("error_details", "provider: anthropic"))
			Expect(fields).To(HaveKeyWithValue("underlying_error", "connection failed"))
		})

		It("omits optional keys when absent", func() {
			err := apperrors.NewValidationError("bad input")
			fields := apperrors.LogFields(err)
			Expect(fields).NotTo(HaveKey("error_details"))
			Expect(fields).NotTo(HaveKey("underlying_error"))
		})
	})

	Describe("error chaining", func() {
		It("returns nil for no errors", func() {
			Expect(apperrors.Chain()).To(BeNil())
		})

		It("passes a single error through unwrapped", func() {
			single := errors.New("single error")
			Expect(apperrors.Chain(single)).To(Equal(single))
		})

		It("filters nils and joins the rest", func() {
			e1, e2 := errors.New("first"), errors.New("second")
			chained := apperrors.Chain(e1, nil, e2, nil)
			Expect(chained.Error()).To(ContainSubstring("first"))
			Expect(chained.Error()).To(ContainSubstring("second"))
			Expect(chained.Error()).To(ContainSubstring(" -> "))
		})
	})
})
