package main

import (
	"context"
	"fmt"

	"docs4usync/internal/activity"
	"docs4usync/internal/backends"
	"docs4usync/internal/connector"
	"docs4usync/internal/docs4u"
	"docs4usync/internal/ports"
	"docs4usync/internal/pub"
	"docs4usync/internal/types"
)

func settings(rootOverride string) (backends.Settings, error) {
	st, err := backends.SettingsFromEnv()
	if err != nil {
		return st, err
	}
	if rootOverride != "" {
		st.RootDirectory = rootOverride
	}
	if st.RootDirectory == "" {
		return st, fmt.Errorf("%w: set %s or pass --root", types.ErrInvalidConfig, backends.RootDirectoryKey)
	}
	return st, nil
}

func connectorOptions(st backends.Settings) (connector.Options, error) {
	cache, err := backends.IdentityCacheFromEnv()
	if err != nil {
		return connector.Options{}, err
	}
	locker, err := backends.LockerFromEnv()
	if err != nil {
		return connector.Options{}, err
	}
	return connector.Options{
		Repository:      docs4u.Factory{},
		Cache:           cache,
		Locker:          locker,
		SessionLifetime: st.SessionLifetime,
		CacheLifetime:   st.CacheLifetime,
		LookupTimeout:   st.LookupTimeout,
	}, nil
}

// newConnector returns a single connected connector for one-shot commands.
func newConnector(st backends.Settings) (*connector.Connector, error) {
	opts, err := connectorOptions(st)
	if err != nil {
		return nil, err
	}
	c := connector.New(opts)
	if err := c.Connect(types.ConnectionConfig{RootDirectory: st.RootDirectory}); err != nil {
		return nil, err
	}
	return c, nil
}

// activityRecorder logs every activity, keeps recent ones in journal, and publishes
// them to SNS when ACTIVITY_SNS_ARN is set.
func activityRecorder(ctx context.Context, st backends.Settings, journal *activity.Journal) (ports.ActivityRecorder, error) {
	recorders := activity.Multi{activity.LogRecorder{}, journal}
	if st.ActivitySNSArn != "" {
		cli, err := backends.SNSClientFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, &activity.SNSRecorder{
			Pub:           pub.NewSNS(cli, "docs4u-sync"),
			TopicARN:      st.ActivitySNSArn,
			RootDirectory: st.RootDirectory,
		})
	}
	return recorders, nil
}
