package forwarding

import (
	"context"

	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/signing"
)

// LoopDetectionFilter rejects requests whose network path already passed
// through nodeID.
func LoopDetectionFilter(nodeID appmessage.NodeID) Filter {
	return func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
		path := request.Header().NetworkPath
		if path.Contains(nodeID) {
			return Reject("Routing loop detected!", path.String()), nil
		}
		return Next(), nil
	}
}

// SignatureFilter rejects requests whose signatures do not satisfy policy.
func SignatureFilter(policy *signing.Policy) Filter {
	return func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
		ok, err := policy.Verify(request, signing.RequestContext(request.Action()))
		if ok {
			return Next(), nil
		}
		details := "signature verification failed"
		if err != nil {
			details = err.Error()
		}
		return Reject("Invalid signature(s)!", details), nil
	}
}
