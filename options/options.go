// Package options implements RFC 2347/2348/2349 option negotiation: taking
// the raw name/value pairs off a request or OACK and deciding what a peer
// may actually have.
package options

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jcarswell/gotftpy"
)

// Supported lists every option this engine negotiates. Anything else is
// dropped silently, per RFC 2347's rule that unrecognized options are
// simply omitted from the OACK.
var Supported = map[string]bool{
	"blksize": true,
	"tsize":   true,
	"timeout": true,
}

// FileSizer reports the size of the file a transfer concerns, when known.
// The state package passes one that seeks the transfer's file object and
// reports false when that object cannot seek.
type FileSizer func() (size int64, ok bool)

// Negotiate filters requested down to the options this engine accepts,
// clamping blksize to [tftp.MinBlkSize, tftp.MaxBlkSize] and resolving
// tsize against sizer. It never returns an error: an option this engine
// can't satisfy is dropped rather than failing the whole request, matching
// tftpy's return_supported_options.
func Negotiate(requested map[string]string, sizer FileSizer, log logrus.FieldLogger) map[string]string {
	if log == nil {
		log = logrus.StandardLogger()
	}
	accepted := make(map[string]string, len(requested))

	for name, value := range requested {
		name = strings.ToLower(name)
		switch name {
		case "blksize":
			n, err := strconv.Atoi(value)
			if err != nil {
				log.WithField("option", name).Debug("dropping malformed option")
				continue
			}
			switch {
			case n > tftp.MaxBlkSize:
				log.WithFields(logrus.Fields{"requested": n, "max": tftp.MaxBlkSize}).
					Info("clamping blksize to maximum")
				n = tftp.MaxBlkSize
			case n < tftp.MinBlkSize:
				log.WithFields(logrus.Fields{"requested": n, "min": tftp.MinBlkSize}).
					Info("clamping blksize to minimum")
				n = tftp.MinBlkSize
			}
			accepted[name] = strconv.Itoa(n)

		case "tsize":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				log.WithField("option", name).Debug("dropping malformed option")
				continue
			}
			if n < 0 {
				n = 0
			}
			if sizer != nil {
				if size, ok := sizer(); ok {
					n = size
				}
			}
			accepted[name] = strconv.FormatInt(n, 10)

		case "timeout":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > 255 {
				log.WithField("option", name).Debug("dropping out-of-range timeout option")
				continue
			}
			accepted[name] = strconv.Itoa(n)

		default:
			log.WithField("option", name).Info("dropping unsupported option")
		}
	}

	return accepted
}

// BlockSize extracts the negotiated blksize from accepted, or
// tftp.DefBlkSize if none was negotiated.
func BlockSize(accepted map[string]string) int {
	v, ok := accepted["blksize"]
	if !ok {
		return tftp.DefBlkSize
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return tftp.DefBlkSize
	}
	return n
}
