package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type APIGatewayAPI interface {
	GetRestApi(
		ctx context.Context,
		params *apigateway.GetRestApiInput,
		optFns ...func(*apigateway.Options),
	) (*apigateway.GetRestApiOutput, error)
	GetStages(
		ctx context.Context,
		params *apigateway.GetStagesInput,
		optFns ...func(*apigateway.Options),
	) (*apigateway.GetStagesOutput, error)
}

// VerifyRestAPI confirms a pre-existing REST API and stage are deployed and
// returns the stage's invoke URL. Gateway APIs are owned by their own
// deployment process; this only checks what a function deployment depends on.
// A non-blank expectedName must match the API's actual name.
func VerifyRestAPI(ctx context.Context, api APIGatewayAPI, restAPIID, expectedName, stageName, region string) (Handle, error) {
	rest, err := api.GetRestApi(ctx, &apigateway.GetRestApiInput{RestApiId: aws.String(restAPIID)})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("fetching rest api %q", restAPIID), err)
	}
	if actual := aws.ToString(rest.Name); expectedName != "" && actual != expectedName {
		return Handle{}, &pipeline.Failure{
			Kind:    pipeline.Conflict,
			Message: fmt.Sprintf("rest api %q is named %q, not %q", restAPIID, actual, expectedName),
			Hint:    "edge.apiGatewayID and edge.apiGatewayName disagree; fix whichever is stale",
		}
	}

	stages, err := api.GetStages(ctx, &apigateway.GetStagesInput{RestApiId: aws.String(restAPIID)})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("fetching stages of rest api %q", restAPIID), err)
	}
	for _, item := range stages.Item {
		if aws.ToString(item.StageName) == stageName {
			return Handle{
				ID:       aws.ToString(rest.Id),
				Endpoint: fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", restAPIID, region, stageName),
			}, nil
		}
	}

	return Handle{}, &pipeline.Failure{
		Kind:    pipeline.NotFound,
		Message: fmt.Sprintf("rest api %q has no stage %q", restAPIID, stageName),
		Hint:    "deploy the api stage before pointing a function deployment at it",
	}
}
