package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder for image.Decode
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"tradeyard/m1/internal/config"
	"tradeyard/m1/internal/push"
	"tradeyard/m1/internal/services"
	"tradeyard/m1/internal/storage"
	"tradeyard/m1/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypePushNotify        = "push:notify"
	TypeImageProcess      = "image:process"
	TypeAttachmentProcess = "attachment:process"
)

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}
	return asynq.NewClient(clientOpt)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg            *config.Config
	pushSender     push.Sender
	storageService storage.IS3Storage
	listingService services.IListingService
	userService    services.IUserService
	s3Client       *s3.Client
	taskClient     *asynq.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	pushSender push.Sender,
	storageService storage.IS3Storage,
	listingService services.IListingService,
	userService services.IUserService,
	s3Client *s3.Client,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		pushSender:     pushSender,
		storageService: storageService,
		listingService: listingService,
		userService:    userService,
		s3Client:       s3Client,
		taskClient:     taskClient,
	}
}

// SetupServer configures an Asynq server instance and its handler mux. The
// caller runs the server; a nil server means no handlers were registered for
// the requested worker roles.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	serverOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypePushNotify, processor.HandlePushNotifyTask)
		log.Println("Registered background task handlers.")
	}

	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		mux.HandleFunc(TypeAttachmentProcess, processor.HandleAttachmentProcessTask)
		log.Println("Registered image processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		log.Println("Running in API mode, no task server started.")
		return nil, nil
	}

	return srv, mux
}

// --- Task Handlers ---

// PushTaskPayload defines the data for a push notification task.
type PushTaskPayload struct {
	RecipientID    string `json:"recipient_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Preview        string `json:"preview"`
}

// HandlePushNotifyTask delivers a new-message push to all of the recipient's
// devices. Recipients without registered devices, or who opted out of
// new-message pushes, are not an error.
func (p *TaskProcessor) HandlePushNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload PushTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal push task payload: %v: %w", err, asynq.SkipRetry)
	}

	recipientID, err := utils.ParseSixID(payload.RecipientID)
	if err != nil {
		log.Printf("Invalid RecipientID in push task payload: %s", payload.RecipientID)
		return fmt.Errorf("invalid recipient ID in payload: %w", asynq.SkipRetry)
	}

	tokens, err := p.userService.DeviceTokensFor(ctx, recipientID)
	if err != nil {
		// Deleted recipient: nothing to deliver, don't retry.
		log.Printf("Cannot resolve device tokens for user %s: %v", payload.RecipientID, err)
		return fmt.Errorf("recipient unavailable: %w", asynq.SkipRetry)
	}
	if len(tokens) == 0 {
		log.Printf("User %s has no devices registered for pushes, skipping.", payload.RecipientID)
		return nil
	}

	n := push.Notification{
		Title:          payload.SenderName,
		Body:           payload.Preview,
		ConversationID: payload.ConversationID,
		MessageID:      payload.MessageID,
		SenderID:       payload.SenderID,
	}
	if err := p.pushSender.Send(ctx, tokens, n); err != nil {
		return fmt.Errorf("failed to send push to user %s: %w", payload.RecipientID, err)
	}

	log.Printf("Push task processed: recipient=%s, conversation=%s", payload.RecipientID, payload.ConversationID)
	return nil
}

// ImageTaskPayload defines the data for the listing image processing task.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

// HandleImageProcessTask validates and downscales an uploaded listing image,
// then attaches its key to the listing.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := utils.ParseSixID(payload.ListingID)
	if err != nil {
		log.Printf("Invalid ListingID in image task payload: %s", payload.ListingID)
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)

	if err := p.processStoredImage(ctx, payload.S3Key); err != nil {
		return err
	}

	if err := p.listingService.AddImageToListing(ctx, listingID, payload.S3Key); err != nil {
		log.Printf("Error adding image key %s to listing %s: %v", payload.S3Key, payload.ListingID, err)
		return fmt.Errorf("failed to update listing with processed image: %w", err)
	}

	log.Printf("Image task processed successfully: Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)
	return nil
}

// AttachmentTaskPayload defines the data for the chat attachment task.
type AttachmentTaskPayload struct {
	S3Key          string `json:"s3_key"`
	ConversationID string `json:"conversation_id"`
}

// HandleAttachmentProcessTask downscales an uploaded chat attachment in
// place. The message already references the key, so no document update is
// needed.
func (p *TaskProcessor) HandleAttachmentProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload AttachmentTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal attachment task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing attachment task: S3Key=%s, ConversationID=%s", payload.S3Key, payload.ConversationID)

	if err := p.processStoredImage(ctx, payload.S3Key); err != nil {
		return err
	}

	log.Printf("Attachment task processed successfully: Key=%s", payload.S3Key)
	return nil
}

// processStoredImage downloads an S3 object, enforces the size limit,
// downscales it to the configured max dimension and writes it back.
func (p *TaskProcessor) processStoredImage(ctx context.Context, s3Key string) error {
	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", s3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		log.Printf("Error getting object %s from S3: %v", s3Key, err)
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		log.Printf("Error reading image object body for key %s: %v", s3Key, err)
		return fmt.Errorf("failed to read image data: %w", err)
	}

	// Check size before decoding, it's cheaper.
	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", s3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", s3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", s3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxWidth := uint(p.cfg.ImageMaxDimension)
	maxHeight := uint(p.cfg.ImageMaxDimension)
	needsResize := uint(img.Bounds().Dx()) > maxWidth || uint(img.Bounds().Dy()) > maxHeight
	if !needsResize {
		return nil
	}

	log.Printf("Resizing image %s (original: %dx%d, max: %dx%d)", s3Key, img.Bounds().Dx(), img.Bounds().Dy(), maxWidth, maxHeight)
	resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85}); err != nil {
		log.Printf("Error encoding resized image %s: %v", s3Key, err)
		return fmt.Errorf("failed to re-encode resized image: %w", err)
	}
	processedImageData := buf.Bytes()

	if int64(len(processedImageData)) > maxSizeBytes {
		log.Printf("Resized image %s still exceeds max size (%d > %d bytes). Skipping.", s3Key, len(processedImageData), maxSizeBytes)
		return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
	}

	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.AwsS3Bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(processedImageData),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		log.Printf("Error uploading processed image %s to S3: %v", s3Key, err)
		return fmt.Errorf("failed to upload processed image: %w", err)
	}
	log.Printf("Resized image %s to %dx%d", s3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())
	return nil
}
