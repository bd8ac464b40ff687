package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/Pandentia/mailrelay/mailrelay/attachment"
	"github.com/Pandentia/mailrelay/mailrelay/fields"
	"github.com/gin-gonic/gin"
)

func (api *API) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"msg": "Mailer."})
}

// sendHandler runs the relay pipeline for one route: authorize, resolve
// the envelope, decode attachments, dispatch and report.
func (api *API) sendHandler(policy mailrelay.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := api.logger(c).With().Str("module", "handler").Str("route", policy.Path).Logger()
		logger.Debug().Msg("Request received")

		authCtx, err := api.authorizer.Authorize(policy, c.Request)
		if err != nil {
			logger.Err(err).Msg("Authorization failed")
			abortAuth(c, err)
			return
		}

		raw, err := c.GetRawData()
		if err != nil {
			logger.Err(err).Msg("Error reading request body")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Malformed request body."})
			return
		}

		var req fields.Request
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				logger.Err(err).Msg("Error parsing request body")
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Malformed request body.", "request": string(raw)})
				return
			}
		}

		env, err := api.resolver.Resolve(policy, authCtx, req)
		if err != nil {
			var missing *mailrelay.MissingFieldError
			if errors.As(err, &missing) {
				logger.Info().Strs("missing", missing.Fields).Msg("Rejected incomplete request")
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": missing.Error(), "request": echo(raw)})
				return
			}
			logger.Err(err).Msg("Error resolving envelope")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": policy.Noun + " not sent.", "message": err.Error()})
			return
		}

		var attachments []mailrelay.Attachment
		if policy.Body == mailrelay.BodyInvoice {
			att, err := attachment.DecodePDF(req.PDFBase64, env.Subject)
			if err != nil {
				logger.Err(err).Msg("Error decoding invoice")
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": policy.Noun + " not sent.", "message": "Unable to convert base64 to PDF."})
				return
			}
			attachments = append(attachments, att)
		}

		if _, err := api.dispatcher.Send(c.Request.Context(), env, attachments...); err != nil {
			c.AbortWithStatusJSON(api.Config.TransportFailureStatus, gin.H{"error": policy.Noun + " not sent.", "message": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": policy.Noun + " sent."})
	}
}

// abortAuth responds to an authorization failure without revealing which
// check failed.
func abortAuth(c *gin.Context, err error) {
	if errors.Is(err, mailrelay.ErrForbidden) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Auth failed."})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization failed."})
}

// echo returns the request body for inclusion in an error response.
func echo(raw []byte) interface{} {
	if len(raw) == 0 {
		return gin.H{}
	}
	return json.RawMessage(raw)
}
