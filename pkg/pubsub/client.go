package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// Role selects which reconcile resource a process depends on.
type Role string

const (
	// RolePublisher is the api process publishing reconcile tasks.
	RolePublisher Role = "publisher"
	// RoleSubscriber is the worker process pulling reconcile tasks.
	RoleSubscriber Role = "subscriber"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub reconcile topic is required")
	errSubRequired       = errors.New("pubsub reconcile subscription is required")
	errUnknownRole       = errors.New("pubsub role must be publisher or subscriber")
)

// Client owns the Pub/Sub connection used for durable reconcile tasks.
type Client struct {
	client       *pubsub.Client
	projectID    string
	role         Role
	topic        string
	subscription string
}

// NewClient creates a Pub/Sub v2 client and verifies the resource its role
// needs exists, so misconfiguration fails at boot instead of on first task.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	c := &Client{
		projectID:    projectID,
		role:         role,
		topic:        strings.TrimSpace(cfg.ReconcileTopic),
		subscription: strings.TrimSpace(cfg.ReconcileSubscription),
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c.client = psClient

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"role":     string(role),
			"resource": c.resourceForRole(),
		}), "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) validate() error {
	switch c.role {
	case RolePublisher:
		if c.topic == "" {
			return errTopicRequired
		}
	case RoleSubscriber:
		if c.subscription == "" {
			return errSubRequired
		}
	default:
		return errUnknownRole
	}
	return nil
}

func (c *Client) resourceForRole() string {
	if c.role == RolePublisher {
		return resourceName(c.projectID, "topics", c.topic)
	}
	return resourceName(c.projectID, "subscriptions", c.subscription)
}

// ReconcileSubscription returns the subscriber the worker pulls from.
func (c *Client) ReconcileSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil || c.subscription == "" {
		return nil
	}
	return c.client.Subscriber(resourceName(c.projectID, "subscriptions", c.subscription))
}

// ReconcilePublisher returns the publisher for reconcile tasks. Ordering is
// enabled so tasks sharing an ordering key are delivered in publish order;
// the subscription must be created with message ordering for it to apply.
func (c *Client) ReconcilePublisher() *pubsub.Publisher {
	if c == nil || c.client == nil || c.topic == "" {
		return nil
	}
	pub := c.client.Publisher(resourceName(c.projectID, "topics", c.topic))
	pub.EnableMessageOrdering = true
	return pub
}

// Ping checks that the role's topic or subscription still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	name := c.resourceForRole()

	var err error
	if c.role == RolePublisher {
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	} else {
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	}
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s does not exist", name)
	}
	return fmt.Errorf("checking %s: %w", name, err)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short id into a full resource name; full names pass
// through untouched.
func resourceName(projectID, kind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	return fmt.Sprintf("projects/%s/%s/%s", projectID, kind, n)
}
