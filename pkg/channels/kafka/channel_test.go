package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "contentflow")
	require.ErrorIs(t, err, ErrNoBrokers)

	_, _, err = CreateChannel(watermill.NopLogger{}, []string{""}, "contentflow")
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestPartitionByKey_UsesThreadKey(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	msg.Metadata.Set(events.EventMetadataKey, "thread-1")

	produced, err := partitionByKey.Marshal(events.Topic, msg)
	require.NoError(t, err)

	key, err := produced.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "thread-1", string(key))
}

func TestSaramaConfigs(t *testing.T) {
	pub := publisherConfig("contentflow")
	assert.Equal(t, "contentflow", pub.ClientID)
	assert.Equal(t, sarama.WaitForAll, pub.Producer.RequiredAcks)
	assert.True(t, pub.Producer.Return.Successes)

	sub := subscriberConfig("contentflow")
	assert.Equal(t, sarama.OffsetOldest, sub.Consumer.Offsets.Initial)
}
