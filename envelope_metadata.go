package subscriber

import (
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// queueMetadataFrom builds QueueMetadata from the raw queue message. msg may
// be nil (e.g. a Decode call outside of a queue-receive context), in which
// case an empty QueueMetadata is returned.
func queueMetadataFrom(msg *sqstypes.Message) TransportMetadata {
	if msg == nil {
		return QueueMetadata{Attributes: map[string]string{}}
	}
	attrs := msg.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	meta := QueueMetadata{
		Attributes:      attrs,
		MessageGroupID:  attrs["MessageGroupId"],
		DeduplicationID: attrs["MessageDeduplicationId"],
	}
	if msg.MessageId != nil {
		meta.MessageID = *msg.MessageId
	}
	if msg.ReceiptHandle != nil {
		meta.ReceiptHandle = *msg.ReceiptHandle
	}
	return meta
}

func topicMetadataFrom(outer map[string]any) TransportMetadata {
	meta := TopicMetadata{Attributes: map[string]string{}}
	if v, ok := outer["TopicArn"].(string); ok {
		meta.TopicID = v
	}
	if v, ok := outer["Subject"].(string); ok {
		meta.Subject = v
	}
	if v, ok := outer["UnsubscribeURL"].(string); ok {
		meta.UnsubscribeURL = v
	}
	if v, ok := outer["Timestamp"].(string); ok {
		meta.Timestamp = v
	}
	if raw, ok := outer["MessageAttributes"].(map[string]any); ok {
		for k, v := range raw {
			if obj, ok := v.(map[string]any); ok {
				if s, ok := obj["Value"].(string); ok {
					meta.Attributes[k] = s
				}
			}
		}
	}
	return meta
}

func eventBusMetadataFrom(outer map[string]any) TransportMetadata {
	meta := EventBusMetadata{}
	if v, ok := outer["id"].(string); ok {
		meta.EventID = v
	}
	if v, ok := outer["detail-type"].(string); ok {
		meta.DetailType = v
	}
	if v, ok := outer["source"].(string); ok {
		meta.Source = v
	}
	if v, ok := outer["time"].(string); ok {
		meta.Time = v
	}
	if v, ok := outer["account"].(string); ok {
		meta.Account = v
	}
	if v, ok := outer["region"].(string); ok {
		meta.Region = v
	}
	if raw, ok := outer["resources"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				meta.Resources = append(meta.Resources, s)
			}
		}
	}
	return meta
}
