package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-service/internal/domain/parking"
)

// responseHeader is the envelope every response carries; the body payload
// rides beside it under "data".
type responseHeader struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	PersianMessage string `json:"persian_message"`
	MessageCode    int    `json:"message_code"`
}

var okHeader = responseHeader{
	Status:      "ok",
	Message:     "success",
	MessageCode: parking.CodeSuccess,
}

func headerFor(e *parking.Error) responseHeader {
	return responseHeader{
		Status:         "error",
		Message:        e.Message,
		PersianMessage: e.Persian,
		MessageCode:    e.Code,
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{"header": okHeader, "data": data}
}

// httpStatusFor maps msg codes to HTTP statuses. This is the single place
// errors become transport concerns.
func httpStatusFor(code int) int {
	switch code {
	case parking.CodeNotFound:
		return http.StatusNotFound
	case parking.CodeBadRequest, parking.CodeInputError, parking.CodeOperationFailed:
		return http.StatusBadRequest
	case parking.CodeForbidden:
		return http.StatusForbidden
	case parking.CodeBadCredentials:
		return http.StatusUnauthorized
	case parking.CodeDuplicateZoneName, parking.CodeDuplicateIP, parking.CodeDuplicateSerial,
		parking.CodeDuplicateZonePricing, parking.CodeDuplicateName, parking.CodeBillSettled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c *gin.Context, err error) {
	var appErr *parking.Error
	if !errors.As(err, &appErr) {
		appErr = parking.ErrInternal.WithCause(err)
	}
	c.JSON(httpStatusFor(appErr.Code), gin.H{"header": headerFor(appErr)})
}
