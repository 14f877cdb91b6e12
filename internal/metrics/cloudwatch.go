package metrics

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"adxsync/logger"
)

const DefaultNamespace = "ADXSync"

type metricDataPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes numeric metric events as CloudWatch datums.
type CloudWatch struct {
	client    metricDataPutter
	namespace string
	timeout   time.Duration
	log       *logger.Log
}

// NewCloudWatch loads the AWS configuration for region (AWS_REGION when
// empty) and returns a publisher for namespace.
func NewCloudWatch(ctx context.Context, region, namespace string, log *logger.Log) (*CloudWatch, error) {
	if log == nil {
		log = logger.Discard()
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithComponent("cloudwatch").WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return nil, err
	}

	cw := newCloudWatch(cloudwatch.NewFromConfig(cfg), namespace, log)
	log.WithComponent("cloudwatch").WithFields(logger.Fields{
		"region":    cfg.Region,
		"namespace": cw.namespace,
	}).Info("initialized CloudWatch client")
	return cw, nil
}

func newCloudWatch(client metricDataPutter, namespace string, log *logger.Log) *CloudWatch {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &CloudWatch{client: client, namespace: namespace, timeout: 5 * time.Second, log: log}
}

// Handle publishes m. Failures are logged and otherwise ignored.
func (c *CloudWatch) Handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		c.log.WithComponent("cloudwatch").WithFields(logger.Fields{"metric": m.Name}).Debug("non-numeric metric value; skipping publish")
		return
	}

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := m.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(rawUnit); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" || k == "run_id" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(m.Name),
			Dimensions: dims,
			Timestamp:  aws.Time(ts),
			Unit:       unit,
			Value:      aws.Float64(value),
		}},
	})
	if err != nil {
		c.log.WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}
	c.log.WithComponent("cloudwatch").WithField("metric", m.Name).Debug("published metric to CloudWatch")
}

// Register subscribes c to emitted metrics.
func (c *CloudWatch) Register() func() {
	id := RegisterMetricHandler(c.Handle)
	return func() { UnregisterMetricHandler(id) }
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
